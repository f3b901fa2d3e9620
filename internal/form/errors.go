package form

import (
	"errors"

	"schedform/internal/client"
	"schedform/internal/domain"
)

// Kind sorts submit and load failures into the three ways they are handled.
type Kind int

const (
	KindNone Kind = iota
	KindValidation
	KindRemote
	KindTransport
	KindOther
)

func (k Kind) String() string {
	switch k {
	case KindNone:
		return "none"
	case KindValidation:
		return "validation"
	case KindRemote:
		return "remote"
	case KindTransport:
		return "transport"
	}
	return "other"
}

func Classify(err error) Kind {
	if err == nil {
		return KindNone
	}
	var ve *domain.ValidationError
	var re *client.RemoteError
	var te *client.TransportError
	switch {
	case errors.As(err, &ve):
		return KindValidation
	case errors.As(err, &re):
		return KindRemote
	case errors.As(err, &te):
		return KindTransport
	}
	return KindOther
}
