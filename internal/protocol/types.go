package protocol

import "fmt"

// Wire widths shared by the codec and the crypto composition layer.
const (
	RSAKeyBits        = 2048
	RSACiphertextSize = RSAKeyBits / 8

	PublicKeyFieldSize  = 512
	IdentifierFieldSize = 33
	MaxIdentifierLen    = IdentifierFieldSize - 1

	AESKeySize = 32
	NonceSize  = 16
	TagSize    = 16

	// RandomPrefixSize is the random lead-in of every credential and command plaintext.
	RandomPrefixSize = 32

	SessionKeyPlainSize   = 48
	SessionKeyContentSize = 33
	WrappedSessionKeySize = SessionKeyPlainSize + NonceSize + TagSize

	CommandContentSize = 224
	MaxCommandLen      = CommandContentSize - RandomPrefixSize
	DataFieldSize      = 256

	HostSecretSize    = 32
	HostSecretHexSize = HostSecretSize * 2
	PasswordHashSize  = 64

	// CredentialPayloadSize fits RSA-OAEP capacity at 2048 bits for SHA-1 (214) and SHA-256 (190).
	CredentialPayloadSize = 190
)

// PacketType is the leading tag byte of every packet.
type PacketType uint8

const (
	TypeAck                PacketType = 1
	TypeConnectionRequest  PacketType = 2
	TypeConnectionResponse PacketType = 3
	// 4 is reserved.
	TypeCommand           PacketType = 5
	TypeLoginRequest      PacketType = 6
	TypeLoginResponse     PacketType = 7
	TypeRegisterRequest   PacketType = 8
	TypeRegisterResponse  PacketType = 9
	TypeLogout            PacketType = 10
	TypeAsyncNotification PacketType = 11
)

func (t PacketType) String() string {
	switch t {
	case TypeAck:
		return "ack"
	case TypeConnectionRequest:
		return "connection_request"
	case TypeConnectionResponse:
		return "connection_response"
	case TypeCommand:
		return "command"
	case TypeLoginRequest:
		return "login_request"
	case TypeLoginResponse:
		return "login_response"
	case TypeRegisterRequest:
		return "register_request"
	case TypeRegisterResponse:
		return "register_response"
	case TypeLogout:
		return "logout"
	case TypeAsyncNotification:
		return "async_notification"
	default:
		return fmt.Sprintf("type(%d)", uint8(t))
	}
}

type LoginStatus uint8

const (
	LoginFailed        LoginStatus = 0
	LoginSuccess       LoginStatus = 1
	LoginNoSuchService LoginStatus = 2
)

func (s LoginStatus) String() string {
	switch s {
	case LoginFailed:
		return "failed"
	case LoginSuccess:
		return "success"
	case LoginNoSuchService:
		return "no_such_service"
	default:
		return fmt.Sprintf("login_status(%d)", uint8(s))
	}
}

type RegisterStatus uint8

const (
	RegisterFailed        RegisterStatus = 0
	RegisterSuccess       RegisterStatus = 1
	RegisterAlreadyExists RegisterStatus = 2
)

func (s RegisterStatus) String() string {
	switch s {
	case RegisterFailed:
		return "failed"
	case RegisterSuccess:
		return "success"
	case RegisterAlreadyExists:
		return "already_exists"
	default:
		return fmt.Sprintf("register_status(%d)", uint8(s))
	}
}

type RegistrationType uint8

const (
	RegistrationHost    RegistrationType = 1
	RegistrationService RegistrationType = 2
)

func (r RegistrationType) String() string {
	switch r {
	case RegistrationHost:
		return "host"
	case RegistrationService:
		return "service"
	default:
		return fmt.Sprintf("registration_type(%d)", uint8(r))
	}
}

type AsyncEventType uint8

const (
	AsyncEventFile AsyncEventType = 1
	AsyncEventAny  AsyncEventType = 255
)
