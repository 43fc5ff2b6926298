package rules

// Default is the process-wide registry used when a component is not given
// one explicitly. Populate it during startup, then call Freeze.
var Default = NewRegistry(DefaultNamespace)

func Register(viewset string, rs ...Rule) error { return Default.Register(viewset, rs...) }

func Lookup(viewset, action string) (Rule, bool) { return Default.Lookup(viewset, action) }

func Freeze() { Default.Freeze() }

// Reset clears the process-wide registry. Tests only.
func Reset() { Default.Reset() }
