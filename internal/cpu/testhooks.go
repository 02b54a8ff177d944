package cpu

// InstallTestHooks wires a trivial single-hart interrupt model so package
// tests can exercise spinlocks/sleeplocks without a real boot collaborator.
// Not for kernel use — tests only, and not safe if called concurrently
// from more than one goroutine pretending to be a hart.
func InstallTestHooks() {
	enabled := true
	SetHooks(Hooks{
		IntrOn:  func() { enabled = true },
		IntrOff: func() { enabled = false },
		IntrGet: func() bool { return enabled },
		Whoami:  func() int { return 0 },
	})
}
