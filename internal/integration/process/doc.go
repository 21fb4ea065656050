// Package process runs the external tools the toolchain layer depends
// on: assemblers and linkers that run to completion, and the debugger,
// which stays alive for the length of a session.
//
// # Supervisor
//
// The Supervisor starts and tracks child processes:
//
//	supervisor := process.NewSupervisor(process.WithLogger(logger))
//	defer supervisor.Shutdown(5 * time.Second)
//
//	proc, err := supervisor.Spawn(ctx, process.Spec{
//	    Path: "gdb",
//	    Args: []string{"-i=mi"},
//	})
//	if err != nil {
//	    return err
//	}
//	<-proc.Done()
//
// Output streams of a spawned process reach EOF only after the process
// has exited and every byte it wrote has been delivered.
//
// # Runner
//
// Runner wraps the supervisor for tools that run to completion and
// returns their captured output and exit code:
//
//	res, err := process.NewRunner(supervisor).Run(ctx, process.Spec{
//	    Path: "nasm",
//	    Args: []string{"-f", "elf64", "hello.asm"},
//	})
//
// # Graceful Shutdown
//
// Shutdown sends SIGTERM to every process, waits for the timeout, then
// sends SIGKILL to whatever is left.
package process
