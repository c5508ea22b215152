// Package protocol defines the wire format spoken over the WebSocket.
//
// Each frame is a UTF-8 JSON object with a mandatory "type" discriminator.
// Decode returns one concrete frame type per discriminator so callers can
// switch exhaustively instead of sniffing maps.
package protocol

import (
	"encoding/json"
	"errors"
	"fmt"
)

type Type string

const (
	TypeWelcome         Type = "welcome"
	TypeAuth            Type = "auth"
	TypeAuthSuccess     Type = "auth_success"
	TypeAuthFailure     Type = "auth_failure"
	TypePing            Type = "ping"
	TypePong            Type = "pong"
	TypeRequestData     Type = "request_data"
	TypeRequestAccepted Type = "request_accepted"
	TypeData            Type = "data"
	TypeError           Type = "error"
)

// ErrMalformed marks frames that are not valid JSON or miss required fields.
var ErrMalformed = errors.New("malformed frame")

// UnknownTypeError reports a frame whose discriminator is not in the catalogue.
type UnknownTypeError struct {
	Type Type
}

func (e *UnknownTypeError) Error() string {
	return fmt.Sprintf("unknown frame type %q", e.Type)
}

// Frame is the tagged union of all wire messages.
type Frame interface {
	FrameType() Type
}

type Welcome struct {
	Type     Type   `json:"type"`
	ClientID string `json:"clientId"`
}

type Auth struct {
	Type  Type   `json:"type"`
	Token string `json:"token"`
}

type AuthSuccess struct {
	Type   Type   `json:"type"`
	UserID string `json:"userId"`
}

type AuthFailure struct {
	Type    Type   `json:"type"`
	Message string `json:"message"`
}

type Ping struct {
	Type      Type  `json:"type"`
	Timestamp int64 `json:"timestamp"`
}

type Pong struct {
	Type      Type  `json:"type"`
	Timestamp int64 `json:"timestamp"`
	Echo      int64 `json:"echo"`
}

type RequestData struct {
	Type      Type           `json:"type"`
	RequestID string         `json:"requestId"`
	DataType  string         `json:"dataType"`
	Params    map[string]any `json:"params,omitempty"`
}

type RequestAccepted struct {
	Type      Type   `json:"type"`
	RequestID string `json:"requestId"`
	TaskID    string `json:"taskId"`
	Message   string `json:"message"`
}

// Batch is one increment of a task result. ProcessedItems is cumulative; the
// batch with IsFinal set closes the correlation.
type Batch struct {
	TotalItems     int              `json:"totalItems"`
	ProcessedItems int              `json:"processedItems"`
	Progress       float64          `json:"progress"`
	IsFinal        bool             `json:"isFinal"`
	Results        []map[string]any `json:"results"`
}

type DataPayload struct {
	RequestID string `json:"requestId"`
	Data      Batch  `json:"data"`
}

type Data struct {
	Type    Type        `json:"type"`
	Payload DataPayload `json:"payload"`
}

type Error struct {
	Type      Type   `json:"type"`
	RequestID string `json:"requestId,omitempty"`
	Message   string `json:"message"`
}

func (Welcome) FrameType() Type         { return TypeWelcome }
func (Auth) FrameType() Type            { return TypeAuth }
func (AuthSuccess) FrameType() Type     { return TypeAuthSuccess }
func (AuthFailure) FrameType() Type     { return TypeAuthFailure }
func (Ping) FrameType() Type            { return TypePing }
func (Pong) FrameType() Type            { return TypePong }
func (RequestData) FrameType() Type     { return TypeRequestData }
func (RequestAccepted) FrameType() Type { return TypeRequestAccepted }
func (Data) FrameType() Type            { return TypeData }
func (Error) FrameType() Type           { return TypeError }

// Constructors fill in the discriminator so callers cannot emit an untyped frame.

func NewWelcome(clientID string) Welcome {
	return Welcome{Type: TypeWelcome, ClientID: clientID}
}

func NewAuth(token string) Auth {
	return Auth{Type: TypeAuth, Token: token}
}

func NewAuthSuccess(userID string) AuthSuccess {
	return AuthSuccess{Type: TypeAuthSuccess, UserID: userID}
}

func NewAuthFailure(message string) AuthFailure {
	return AuthFailure{Type: TypeAuthFailure, Message: message}
}

func NewPing(timestamp int64) Ping {
	return Ping{Type: TypePing, Timestamp: timestamp}
}

func NewPong(timestamp, echo int64) Pong {
	return Pong{Type: TypePong, Timestamp: timestamp, Echo: echo}
}

func NewRequestData(requestID, dataType string, params map[string]any) RequestData {
	return RequestData{Type: TypeRequestData, RequestID: requestID, DataType: dataType, Params: params}
}

func NewRequestAccepted(requestID, taskID, message string) RequestAccepted {
	return RequestAccepted{Type: TypeRequestAccepted, RequestID: requestID, TaskID: taskID, Message: message}
}

func NewData(requestID string, batch Batch) Data {
	return Data{Type: TypeData, Payload: DataPayload{RequestID: requestID, Data: batch}}
}

func NewError(requestID, message string) Error {
	return Error{Type: TypeError, RequestID: requestID, Message: message}
}

// Encode marshals a frame to its wire representation.
func Encode(f Frame) ([]byte, error) {
	data, err := json.Marshal(f)
	if err != nil {
		return nil, fmt.Errorf("encode %s frame: %w", f.FrameType(), err)
	}
	return data, nil
}

// MustEncode is Encode for frames built from constructors, which cannot fail
// to marshal.
func MustEncode(f Frame) []byte {
	data, err := Encode(f)
	if err != nil {
		panic(err)
	}
	return data
}

// Decode parses a wire frame into its concrete type. Malformed JSON and
// missing required fields return ErrMalformed; an unlisted discriminator
// returns *UnknownTypeError.
func Decode(data []byte) (Frame, error) {
	var envelope struct {
		Type Type `json:"type"`
	}
	if err := json.Unmarshal(data, &envelope); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}

	switch envelope.Type {
	case TypeWelcome:
		return decodeInto[Welcome](data, func(f Welcome) error {
			return required("clientId", f.ClientID)
		})
	case TypeAuth:
		return decodeInto[Auth](data, func(f Auth) error {
			return required("token", f.Token)
		})
	case TypeAuthSuccess:
		return decodeInto[AuthSuccess](data, func(f AuthSuccess) error {
			return required("userId", f.UserID)
		})
	case TypeAuthFailure:
		return decodeInto[AuthFailure](data, func(f AuthFailure) error {
			return required("message", f.Message)
		})
	case TypePing:
		return decodeInto[Ping](data, nil)
	case TypePong:
		return decodeInto[Pong](data, nil)
	case TypeRequestData:
		return decodeInto[RequestData](data, func(f RequestData) error {
			if err := required("requestId", f.RequestID); err != nil {
				return err
			}
			return required("dataType", f.DataType)
		})
	case TypeRequestAccepted:
		return decodeInto[RequestAccepted](data, func(f RequestAccepted) error {
			return required("requestId", f.RequestID)
		})
	case TypeData:
		return decodeInto[Data](data, func(f Data) error {
			return required("payload.requestId", f.Payload.RequestID)
		})
	case TypeError:
		return decodeInto[Error](data, func(f Error) error {
			return required("message", f.Message)
		})
	case "":
		return nil, fmt.Errorf("%w: missing type discriminator", ErrMalformed)
	default:
		return nil, &UnknownTypeError{Type: envelope.Type}
	}
}

func decodeInto[F Frame](data []byte, validate func(F) error) (Frame, error) {
	var f F
	if err := json.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	if validate != nil {
		if err := validate(f); err != nil {
			return nil, err
		}
	}
	return f, nil
}

func required(field, value string) error {
	if value == "" {
		return fmt.Errorf("%w: missing required field %q", ErrMalformed, field)
	}
	return nil
}
