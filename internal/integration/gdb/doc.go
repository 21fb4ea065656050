// Package gdb controls a GDB subprocess through its machine interface.
//
// A Session spawns "gdb -i=mi", correlates each command with its result
// record through a numeric token, and turns asynchronous records into
// typed events:
//
//	s := gdb.NewSession(gdb.SupervisorSpawner(sup))
//	if err := s.Start(ctx, gdb.LaunchConfig{Request: gdb.RequestLaunch, Program: "./hello"}); err != nil {
//		return err
//	}
//	for ev := range s.Events() {
//		switch ev := ev.(type) {
//		case gdb.StoppedEvent:
//			...
//		}
//	}
//
// Commands that GDB does not answer resolve after Options.CommandTimeout
// with an error-class record whose msg is "Timeout".
package gdb
