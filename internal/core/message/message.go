package message

import "fmt"

// Type tags a message. Handlers are looked up by Selector(), which for
// commands is the command name and for everything else is the type.
type Type string

const (
	TypeCommand           Type = "command"
	TypePropertyChanged   Type = "propertyChanged"
	TypeCompile           Type = "compile"
	TypeDoesNotUnderstand Type = "doesNotUnderstand"

	// Vision poller traffic.
	TypeStart      Type = "start"
	TypeStop       Type = "stop"
	TypeStopped    Type = "stopped"
	TypeCoordinate Type = "coordinate"
	TypeEmpty      Type = "empty"
	TypeError      Type = "error"
)

// Message is an immutable value. It is passed by value everywhere; fields
// that hold slices must not be mutated by receivers.
type Message struct {
	Type Type `json:"type"`

	// command
	CommandName string `json:"commandName,omitempty"`
	Args        []any  `json:"args,omitempty"`

	// propertyChanged
	PropertyName string `json:"propertyName,omitempty"`
	Value        any    `json:"value,omitempty"`
	PartID       string `json:"partId,omitempty"`

	// compile
	Source string `json:"codeString,omitempty"`

	// coordinate / error / start
	Coordinate   []float64   `json:"coordinate,omitempty"`
	Points       [][]float64 `json:"points,omitempty"`
	ErrorName    string      `json:"error,omitempty"`
	ErrorMessage string      `json:"errorMessage,omitempty"`
	URL          string      `json:"url,omitempty"`
	PollTime     int         `json:"pollTime,omitempty"`

	// doesNotUnderstand
	Original *Message `json:"originalMessage,omitempty"`

	TargetID     string `json:"targetId,omitempty"`
	SenderID     string `json:"senderId,omitempty"`
	ShouldIgnore bool   `json:"shouldIgnore,omitempty"`
}

// Selector returns the key handlers are registered under.
func (m Message) Selector() string {
	if m.Type == TypeCommand {
		return m.CommandName
	}
	return string(m.Type)
}

// From returns a copy of m stamped with the sender id.
func (m Message) From(senderID string) Message {
	m.SenderID = senderID
	return m
}

// To returns a copy of m with an explicit target id.
func (m Message) To(targetID string) Message {
	m.TargetID = targetID
	return m
}

func (m Message) String() string {
	if m.Type == TypeCommand {
		return fmt.Sprintf("command(%s)", m.CommandName)
	}
	return string(m.Type)
}

// Command builds a command message.
func Command(name string, args ...any) Message {
	return Message{Type: TypeCommand, CommandName: name, Args: args}
}

// IgnorableCommand builds a command that is silently dropped when no part
// in the delegation chain handles it (DOM event forwarding uses these).
func IgnorableCommand(name string, args ...any) Message {
	m := Command(name, args...)
	m.ShouldIgnore = true
	return m
}

// PropertyChanged builds the uniform notification delivered to views.
func PropertyChanged(name string, value any, partID string) Message {
	return Message{Type: TypePropertyChanged, PropertyName: name, Value: value, PartID: partID}
}

// Compile asks the System to compile source into handlers for targetID.
func Compile(source, targetID string) Message {
	return Message{Type: TypeCompile, Source: source, TargetID: targetID}
}

// DoesNotUnderstand wraps an original message that no handler accepted.
func DoesNotUnderstand(original Message) Message {
	orig := original
	return Message{Type: TypeDoesNotUnderstand, Original: &orig, TargetID: original.SenderID}
}

// Coordinate builds a vision reading: the aggregated x, y, radius plus the
// raw points of the frame it was computed from.
func Coordinate(x, y, radius float64, points [][]float64) Message {
	return Message{Type: TypeCoordinate, Coordinate: []float64{x, y, radius}, Points: points}
}

func Empty() Message { return Message{Type: TypeEmpty} }

func Stopped() Message { return Message{Type: TypeStopped} }

// CommandFailed is the error name the System uses to report a failed
// command back to its sender.
const CommandFailed = "CommandFailed"

// Error builds a failure report.
func Error(name, msg string) Message {
	return Message{Type: TypeError, ErrorName: name, ErrorMessage: msg}
}

// Start asks the vision poller to poll url every pollTime milliseconds.
func Start(url string, pollTime int) Message {
	return Message{Type: TypeStart, URL: url, PollTime: pollTime}
}

func Stop() Message { return Message{Type: TypeStop} }
