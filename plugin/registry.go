package plugin

import "fmt"

// Outputs is a global map of OutputAdapter plugins that need no
// configuration. MIDI is set up by the display, it needs a port.
var Outputs = map[string]func() (OutputAdapter, error){
	"eventlog": func() (OutputAdapter, error) {
		return NewBadgerOutput("", 64)
	},
}

func OutputLookup(name string) (OutputAdapter, error) {
	factory, ok := Outputs[name]
	if !ok {
		return nil, fmt.Errorf("unknown output: %s", name)
	}
	return factory()
}
