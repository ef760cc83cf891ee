package vm

// StandardLibraries returns every library shipped with the engine, in
// registration order.
func StandardLibraries() []Library {
	return []Library{
		StdLibrary(),
		BooleanLibrary(),
		MathLibrary(),
		ListLibrary(),
		ObjectLibrary(),
		StringLibrary(),
		TimeLibrary(),
		RandomLibrary(),
		JSONLibrary(),
	}
}

// NewStdRegistry returns a registry holding the standard libraries.
func NewStdRegistry() *Registry {
	return NewRegistry(StandardLibraries()...)
}
