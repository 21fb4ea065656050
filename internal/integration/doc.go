// Package integration ties the external toolchain into one facade for
// asmforge.
//
// The Manager owns the pieces that talk to other programs:
//
//   - Toolchain: assembling and linking through nasm, GNU as, llvm-mc
//     and armasm, with compiler output turned into diagnostics
//   - Debugger: GDB sessions driven over the machine interface (MI)
//   - Watch mode: rebuilding a source file whenever it changes
//
// # Architecture
//
//	┌─────────────────────────────────────────────────────────────────────┐
//	│                      Integration Manager                            │
//	│  - Component lifecycle management                                   │
//	│  - Configuration and event publishing                               │
//	└─────────────────────────────────────────────────────────────────────┘
//	                              │
//	           ┌──────────────────┴──────────────────┐
//	           ▼                                     ▼
//	  ┌─────────────────┐                   ┌─────────────────┐
//	  │    Toolchain    │                   │       GDB       │
//	  │ assemble / link │                   │  MI sessions    │
//	  └─────────────────┘                   └─────────────────┘
//	           │                                     │
//	           └──────────────────┬──────────────────┘
//	                              ▼
//	  ┌───────────────────────────────────────────────────────┐
//	  │                    Process Supervisor                 │
//	  │  - Child process management                           │
//	  │  - Graceful shutdown with configurable timeout        │
//	  └───────────────────────────────────────────────────────┘
//
// # Usage
//
//	mgr := integration.NewManager(
//	    integration.WithConfig(cfg),
//	    integration.WithLogger(logger),
//	)
//	defer mgr.Close()
//
//	d, _ := mgr.ResolveDialect("boot.s", "auto")
//	res, err := mgr.Build(ctx, mgr.BuildConfig("boot.s", d))
//
//	session, err := mgr.StartDebug(ctx, launch)
//	for ev := range session.Events() {
//	    // ...
//	}
//
// # Events
//
// The Manager publishes build, toolchain and debug lifecycle topics to an
// EventPublisher. EventBus is the in-process implementation; topic
// patterns ending in ".*" match every topic below them.
//
// # Retry
//
// Remote targets and emulators often open their GDB stub a moment after
// they are launched. WaitForTarget dials the stub with exponential backoff
// until it accepts a connection.
package integration
