package types

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"path"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/go-playground/validator/v10/non-standard/validators"

	"github.com/pageza/nutrilog/backend/internal/apperrors"
	"github.com/pageza/nutrilog/backend/internal/nutrition"
)

// MaxTextLength bounds free text accepted from the chat platform; it mirrors the max tag
// on ChatWebhookRequest.Text.
const MaxTextLength = 2000

// FlexibleID accepts identifiers sent either as JSON strings or numbers.
type FlexibleID struct {
	Value string
}

func (f *FlexibleID) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if bytes.Equal(data, []byte("null")) {
		f.Value = ""
		return nil
	}

	var str string
	if err := json.Unmarshal(data, &str); err == nil {
		f.Value = strings.TrimSpace(str)
		return nil
	}

	var num json.Number
	if err := json.Unmarshal(data, &num); err == nil {
		f.Value = num.String()
		return nil
	}

	return fmt.Errorf("invalid identifier format")
}

func (f FlexibleID) MarshalJSON() ([]byte, error) {
	return json.Marshal(f.Value)
}

func (f FlexibleID) String() string {
	return f.Value
}

func (f FlexibleID) IsZero() bool {
	return f.Value == ""
}

// RegisterValidators prepares v for the webhook payloads: FlexibleID validates as its
// string value, "notblank" rejects whitespace-only strings and errors carry JSON names.
// It is applied to gin's binding engine as well as the package validator.
func RegisterValidators(v *validator.Validate) error {
	v.RegisterCustomTypeFunc(func(field reflect.Value) interface{} {
		if id, ok := field.Interface().(FlexibleID); ok {
			return id.Value
		}
		return nil
	}, FlexibleID{})
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name := strings.SplitN(f.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	return v.RegisterValidation("notblank", validators.NotBlank)
}

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New()
	v.SetTagName("binding")
	if err := RegisterValidators(v); err != nil {
		panic(err)
	}
	return v
}

// validationError converts a validator result into a validation error naming every
// offending field by its JSON path, e.g. "quiz_answer.value".
func validationError(message string, err error) error {
	if err == nil {
		return nil
	}
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return apperrors.Validation(message)
	}
	fields := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		ns := fe.Namespace()
		if i := strings.IndexByte(ns, '.'); i >= 0 {
			ns = ns[i+1:]
		}
		fields = append(fields, ns)
	}
	return apperrors.Validation(message, fields...)
}

// QuizAnswer is a structured answer sent from a quick-reply button.
type QuizAnswer struct {
	Step  *int   `json:"step,omitempty"`
	Value string `json:"value" binding:"notblank"`
}

// ChatWebhookRequest is the raw payload posted by the chat platform.
type ChatWebhookRequest struct {
	SubscriberID  FlexibleID  `json:"subscriber_id" binding:"required"`
	FirstName     string      `json:"first_name"`
	Language      string      `json:"language"`
	Timezone      string      `json:"timezone"`
	Text          string      `json:"text" binding:"max=2000"`
	ImageURL      string      `json:"image_url" binding:"omitempty,http_url"`
	AttachmentURL string      `json:"attachment_url" binding:"omitempty,http_url"`
	Type          string      `json:"type"`
	QuizAnswer    *QuizAnswer `json:"quiz_answer,omitempty"`
	MessageID     FlexibleID  `json:"message_id"`
}

// ChatEventKind is the routing tag of a validated chat event.
type ChatEventKind string

const (
	ChatEventText       ChatEventKind = "text"
	ChatEventImage      ChatEventKind = "image"
	ChatEventAudio      ChatEventKind = "audio"
	ChatEventQuizAnswer ChatEventKind = "quiz_answer"
	ChatEventEmpty      ChatEventKind = "empty"
)

// ChatEvent is a validated chat message. Exactly the fields relevant to Kind are set.
type ChatEvent struct {
	Kind         ChatEventKind
	SubscriberID string
	FirstName    string
	Language     string
	Timezone     string
	MessageID    string

	Text     string
	MediaURL string
	QuizStep *int
}

// Method returns the analysis method implied by the event kind.
func (e ChatEvent) Method() nutrition.Method {
	switch e.Kind {
	case ChatEventImage:
		return nutrition.MethodImage
	case ChatEventAudio:
		return nutrition.MethodAudio
	default:
		return nutrition.MethodText
	}
}

var audioExtensions = map[string]bool{
	".ogg": true, ".oga": true, ".opus": true, ".mp3": true, ".m4a": true, ".wav": true, ".aac": true, ".webm": true,
}

// Validate checks the payload and returns a validation error listing every offending field.
func (r ChatWebhookRequest) Validate() error {
	return validationError("invalid chat webhook payload", validate.Struct(r))
}

// Event validates the request and classifies it into a routable event.
func (r ChatWebhookRequest) Event() (ChatEvent, error) {
	if err := r.Validate(); err != nil {
		return ChatEvent{}, err
	}

	event := ChatEvent{
		SubscriberID: r.SubscriberID.String(),
		FirstName:    strings.TrimSpace(r.FirstName),
		Language:     strings.TrimSpace(r.Language),
		Timezone:     strings.TrimSpace(r.Timezone),
		MessageID:    r.MessageID.String(),
	}

	kind := strings.ToLower(strings.TrimSpace(r.Type))
	mediaURL := r.ImageURL
	if mediaURL == "" {
		mediaURL = r.AttachmentURL
	}

	switch {
	case r.QuizAnswer != nil:
		event.Kind = ChatEventQuizAnswer
		event.Text = strings.TrimSpace(r.QuizAnswer.Value)
		event.QuizStep = r.QuizAnswer.Step
	case mediaURL != "" && (kind == "audio" || kind == "voice" || audioExtensions[mediaExtension(mediaURL)]):
		event.Kind = ChatEventAudio
		event.MediaURL = mediaURL
	case mediaURL != "":
		event.Kind = ChatEventImage
		event.MediaURL = mediaURL
		event.Text = strings.TrimSpace(r.Text)
	case strings.TrimSpace(r.Text) != "":
		event.Kind = ChatEventText
		event.Text = strings.TrimSpace(r.Text)
	default:
		event.Kind = ChatEventEmpty
	}
	return event, nil
}

func mediaExtension(raw string) string {
	u, err := url.Parse(raw)
	if err != nil {
		return ""
	}
	return strings.ToLower(path.Ext(u.Path))
}

// Payment event types the subscription state machine acts on.
const (
	PaymentEventPreapproval       = "subscription_preapproval"
	PaymentEventAuthorizedPayment = "subscription_authorized_payment"
)

// PaymentWebhookRequest is the notification posted by the payment processor. It carries
// only an opaque reference; the authoritative status is always re-fetched.
type PaymentWebhookRequest struct {
	ID          FlexibleID `json:"id" binding:"required"`
	Type        string     `json:"type" binding:"notblank"`
	Action      string     `json:"action"`
	LiveMode    bool       `json:"live_mode"`
	DateCreated string     `json:"date_created"`
	Data        struct {
		ID FlexibleID `json:"id" binding:"required"`
	} `json:"data"`
}

func (r PaymentWebhookRequest) Validate() error {
	return validationError("invalid payment webhook payload", validate.Struct(r))
}

// PaymentEvent is a validated payment notification.
type PaymentEvent struct {
	EventID   string
	Type      string
	Action    string
	Reference string
}

func (r PaymentWebhookRequest) Event() (PaymentEvent, error) {
	if err := r.Validate(); err != nil {
		return PaymentEvent{}, err
	}
	return PaymentEvent{
		EventID:   r.ID.String(),
		Type:      strings.TrimSpace(r.Type),
		Action:    strings.TrimSpace(r.Action),
		Reference: r.Data.ID.String(),
	}, nil
}

// PaymentAck is the body returned to the payment processor.
type PaymentAck struct {
	Status    string `json:"status"`
	EventID   string `json:"event_id"`
	NewStatus string `json:"subscription_status,omitempty"`
}

// RemoteSubscription is the authoritative subscription state fetched from the payment
// processor.
type RemoteSubscription struct {
	ID                string
	Status            string
	ExternalReference string
	Reason            string
}
