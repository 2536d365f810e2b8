// Package host declares the minimal surface this core consumes from the
// host runtime (spec §1, §6): channel registration and child-object
// binding. The host runtime itself — bootstrap, component loading, the
// editor application — is explicitly out of scope (spec §1); this package
// exists only so the facades have something concrete to call during attach.
package host

// Runtime is the consumed host-runtime interface: it registers this
// container so it is reachable by id, and binds any child shared objects
// the container references as values so they are independently attached.
type Runtime interface {
	// RegisterChannel makes container reachable by other components under id.
	RegisterChannel(id string, container interface{})
	// BindToContext registers a child shared object (one referenced as a
	// values.Handle) with the host so it is attached independently of its
	// parent container (spec §5 "Shared-resource policy").
	BindToContext(child interface{})
}
