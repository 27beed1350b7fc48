package nutrition

// Method is the kind of input a food log entry was derived from.
type Method string

const (
	MethodText  Method = "text"
	MethodImage Method = "image"
	MethodAudio Method = "audio"
)

func (m Method) Valid() bool {
	switch m {
	case MethodText, MethodImage, MethodAudio:
		return true
	default:
		return false
	}
}
