package schemas

// -- Input Schemas --

// MouseEventType defines the type of a mouse event.
type MouseEventType string

const (
	MouseMove    MouseEventType = "mouseMoved"
	MousePress   MouseEventType = "mousePressed"
	MouseRelease MouseEventType = "mouseReleased"
)

// MouseButton defines the mouse button being pressed.
type MouseButton string

const (
	ButtonNone  MouseButton = "none"
	ButtonLeft  MouseButton = "left"
	ButtonRight MouseButton = "right"
)

// Bitmask values for MouseEventData.Buttons.
const (
	ButtonsNone  int64 = 0
	ButtonsLeft  int64 = 1
	ButtonsRight int64 = 2
)

// MouseEventData encapsulates all data for a mouse event.
type MouseEventData struct {
	Type       MouseEventType `json:"type"`
	X          float64        `json:"x"`
	Y          float64        `json:"y"`
	Button     MouseButton    `json:"button"`
	Buttons    int64          `json:"buttons"`
	ClickCount int            `json:"clickCount"`
}

// Point is a viewport coordinate in CSS pixels.
type Point struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}
