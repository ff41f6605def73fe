package broadcast

import "github.com/mattjoyce/saya/internal/cube"

// KindListener tags ListenerSchema cubes.
const KindListener cube.Kind = "broadcast.listener"

// ListenerSchema declares a Handler cube subscribing to named events.
type ListenerSchema struct {
	Events    []string
	Priority  int
	Namespace string
}

func (ListenerSchema) Kind() cube.Kind { return KindListener }
