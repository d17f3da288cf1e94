package protocol

// Fixed encoded size of each packet variant, tag byte included.
const (
	AckSize                = 1 + 4
	ConnectionRequestSize  = 1 + 4 + PublicKeyFieldSize
	ConnectionResponseSize = 1 + 1 + PublicKeyFieldSize + RSACiphertextSize
	CommandSize            = 1 + 4 + WrappedSessionKeySize + DataFieldSize
	LoginRequestSize       = 1 + 4 + 2*IdentifierFieldSize + DataFieldSize
	LoginResponseSize      = 1 + 1 + WrappedSessionKeySize
	RegisterRequestSize    = 1 + 1 + 2*IdentifierFieldSize + DataFieldSize
	RegisterResponseSize   = 1 + 1
	LogoutSize             = 1 + 4 + DataFieldSize
	AsyncNotificationSize  = 1 + 1 + 4
)

// Packet is one HomeLink message. The set of variants is closed.
type Packet interface {
	Type() PacketType
	encodeFields(w *fieldWriter)
}

type Ack struct {
	Value uint32
}

func (Ack) Type() PacketType { return TypeAck }

func (p Ack) encodeFields(w *fieldWriter) { w.u32(p.Value) }

func (p *Ack) decodeFields(r *fieldReader) { p.Value = r.u32() }

// ConnectionRequest opens the handshake with the client's PEM public key.
type ConnectionRequest struct {
	ConnectionID uint32
	PublicKey    string
}

func (ConnectionRequest) Type() PacketType { return TypeConnectionRequest }

func (p ConnectionRequest) encodeFields(w *fieldWriter) {
	w.u32(p.ConnectionID)
	w.text("public key", p.PublicKey, PublicKeyFieldSize, PublicKeyFieldSize)
}

func (p *ConnectionRequest) decodeFields(r *fieldReader) {
	p.ConnectionID = r.u32()
	p.PublicKey = r.text("public key", PublicKeyFieldSize, PublicKeyFieldSize)
}

// ConnectionResponse carries the server key and the AES key wrapped under the client key.
type ConnectionResponse struct {
	Success   bool
	PublicKey string
	AESKey    [RSACiphertextSize]byte
}

func (ConnectionResponse) Type() PacketType { return TypeConnectionResponse }

func (p ConnectionResponse) encodeFields(w *fieldWriter) {
	w.boolean(p.Success)
	w.text("public key", p.PublicKey, PublicKeyFieldSize, PublicKeyFieldSize)
	w.raw(p.AESKey[:])
}

func (p *ConnectionResponse) decodeFields(r *fieldReader) {
	p.Success = r.boolean("success")
	p.PublicKey = r.text("public key", PublicKeyFieldSize, PublicKeyFieldSize)
	r.raw(p.AESKey[:])
}

type Command struct {
	ConnectionID uint32
	SessionToken [WrappedSessionKeySize]byte
	Data         [DataFieldSize]byte
}

func (Command) Type() PacketType { return TypeCommand }

func (p Command) encodeFields(w *fieldWriter) {
	w.u32(p.ConnectionID)
	w.raw(p.SessionToken[:])
	w.raw(p.Data[:])
}

func (p *Command) decodeFields(r *fieldReader) {
	p.ConnectionID = r.u32()
	r.raw(p.SessionToken[:])
	r.raw(p.Data[:])
}

type LoginRequest struct {
	ConnectionID uint32
	HostID       string
	ServiceID    string
	Data         [DataFieldSize]byte
}

func (LoginRequest) Type() PacketType { return TypeLoginRequest }

func (p LoginRequest) encodeFields(w *fieldWriter) {
	w.u32(p.ConnectionID)
	w.text("host id", p.HostID, IdentifierFieldSize, MaxIdentifierLen)
	w.text("service id", p.ServiceID, IdentifierFieldSize, MaxIdentifierLen)
	w.raw(p.Data[:])
}

func (p *LoginRequest) decodeFields(r *fieldReader) {
	p.ConnectionID = r.u32()
	p.HostID = r.text("host id", IdentifierFieldSize, MaxIdentifierLen)
	p.ServiceID = r.text("service id", IdentifierFieldSize, MaxIdentifierLen)
	r.raw(p.Data[:])
}

type LoginResponse struct {
	Status     LoginStatus
	SessionKey [WrappedSessionKeySize]byte
}

func (LoginResponse) Type() PacketType { return TypeLoginResponse }

func (p LoginResponse) encodeFields(w *fieldWriter) {
	w.u8(uint8(p.Status))
	w.raw(p.SessionKey[:])
}

func (p *LoginResponse) decodeFields(r *fieldReader) {
	p.Status = LoginStatus(r.u8())
	r.raw(p.SessionKey[:])
}

type RegisterRequest struct {
	Registration RegistrationType
	HostID       string
	ServiceID    string
	Data         [DataFieldSize]byte
}

func (RegisterRequest) Type() PacketType { return TypeRegisterRequest }

func (p RegisterRequest) encodeFields(w *fieldWriter) {
	w.u8(uint8(p.Registration))
	w.text("host id", p.HostID, IdentifierFieldSize, MaxIdentifierLen)
	w.text("service id", p.ServiceID, IdentifierFieldSize, MaxIdentifierLen)
	w.raw(p.Data[:])
}

func (p *RegisterRequest) decodeFields(r *fieldReader) {
	p.Registration = RegistrationType(r.u8())
	p.HostID = r.text("host id", IdentifierFieldSize, MaxIdentifierLen)
	p.ServiceID = r.text("service id", IdentifierFieldSize, MaxIdentifierLen)
	r.raw(p.Data[:])
}

type RegisterResponse struct {
	Status RegisterStatus
}

func (RegisterResponse) Type() PacketType { return TypeRegisterResponse }

func (p RegisterResponse) encodeFields(w *fieldWriter) { w.u8(uint8(p.Status)) }

func (p *RegisterResponse) decodeFields(r *fieldReader) { p.Status = RegisterStatus(r.u8()) }

// Logout carries the session AES key encrypted under the server key as proof of ownership.
type Logout struct {
	ConnectionID uint32
	Data         [DataFieldSize]byte
}

func (Logout) Type() PacketType { return TypeLogout }

func (p Logout) encodeFields(w *fieldWriter) {
	w.u32(p.ConnectionID)
	w.raw(p.Data[:])
}

func (p *Logout) decodeFields(r *fieldReader) {
	p.ConnectionID = r.u32()
	r.raw(p.Data[:])
}

type AsyncNotification struct {
	Event AsyncEventType
	Tag   uint32
}

func (AsyncNotification) Type() PacketType { return TypeAsyncNotification }

func (p AsyncNotification) encodeFields(w *fieldWriter) {
	w.u8(uint8(p.Event))
	w.u32(p.Tag)
}

func (p *AsyncNotification) decodeFields(r *fieldReader) {
	p.Event = AsyncEventType(r.u8())
	p.Tag = r.u32()
}
