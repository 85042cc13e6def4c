//go:build linux && (mips || mipsle || mips64 || mips64le || ppc64 || ppc64le)

package input

// evIOCGrab is EVIOCGRAB, _IOW('E', 0x90, int); these architectures encode
// the write direction in bit 31.
const evIOCGrab = 0x80044590
