package forward

import (
	liberr "github.com/nabbar/golib/errors"
)

// Error code range for this package (errors.MinAvailable is the first
// code free for downstream consumers).
const minPkgForward = liberr.MinAvailable + 100

const (
	ErrConfigLoad liberr.CodeError = iota + minPkgForward
	ErrConfigParse
	ErrConfigValidate
	ErrDNSOverrideLoad
	ErrBind
	ErrTransientIO
	ErrProtocol
	ErrPolicyRejection
	ErrSelfLoopRejection
	ErrLifecycle
	ErrUnknownListener
)

func init() {
	liberr.RegisterIdFctMessage(minPkgForward, getMessage)
}

func getMessage(code liberr.CodeError) string {
	switch code {
	case ErrConfigLoad:
		return "unable to read configuration file"
	case ErrConfigParse:
		return "unable to parse configuration file"
	case ErrConfigValidate:
		return "configuration failed validation"
	case ErrDNSOverrideLoad:
		return "unable to load dns override file"
	case ErrBind:
		return "unable to bind listener address"
	case ErrTransientIO:
		return "transient i/o error on connection"
	case ErrProtocol:
		return "client hello pre-check or parse failure"
	case ErrPolicyRejection:
		return "sni host rejected by listener policy"
	case ErrSelfLoopRejection:
		return "resolved backend matches a self ip"
	case ErrLifecycle:
		return "manager is not in a state allowing this operation"
	case ErrUnknownListener:
		return "no such listener configured"
	}

	return liberr.NullMessage
}
