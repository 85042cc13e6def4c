// Package mainloop implements a single-threaded reactor that multiplexes
// one-shot timers, periodic timers and read-readiness watches on file
// descriptors.
//
// A [Loop] owns a small event table. Any goroutine may register or cancel
// events through [Loop.ScheduleTimer], [Loop.SchedulePeriodicTimer],
// [Loop.WatchIO] and [Loop.Cancel]; all callbacks run on the goroutine that
// called [Loop.Run], one at a time. Callbacks may call back into the
// registration API, including cancelling or rescheduling themselves.
//
// Timers that are due in the same wake cycle fire in earliest-deadline-first
// order. A timer never fires before its deadline. A wait shorter than the
// configured timer resolution is raised to it, so timers less than one
// resolution apart are fired in the same wake cycle.
//
// The readiness wait uses epoll on Linux and poll(2) on other unix systems.
// The wakeup channel is an eventfd on Linux and a non-blocking pipe
// elsewhere.
package mainloop
