//go:build linux

package socketcan

import (
	"errors"
	"fmt"
	"net"
	"sync"
	"time"
	"unsafe"

	"golang.org/x/sys/unix"

	"github.com/procsys/cansock/internal/can"
)

// Supported protocol numbers for the raw socket.
const (
	RawProtocol   = unix.CAN_RAW
	ProtocolSeven = 7
)

// Session owns one bound, non-blocking raw CAN socket. It is safe for
// concurrent use: receives and sends are serialized independently, so one
// goroutine may block in WaitForFrames while another sends.
//
// The zero Session value is an unopened session; every operation on it fails
// with ErrClosed. Once closed a session stays closed, reopening requires a
// new Open call.
type Session struct {
	mu     sync.Mutex // receive side: wait, read, drain, filter and option changes
	sendMu sync.Mutex // send side; Close takes both, mu first

	fd        int // kernel descriptor, meaningful only while opened
	opened    bool
	iface     string
	protocol  int
	filters   FilterSet
	defaultID can.ID

	// Receive-queue estimate maintained by WaitForFrames. sizeTrusted drops
	// to false for the session lifetime the first time TIOCINQ fails, which
	// happens on virtual interfaces whose driver does not report buffered
	// byte counts.
	queueSize   int
	sizeTrusted bool

	collectStamps  bool
	relativeStamps bool
	haveFirstStamp bool
	firstStamp     time.Duration
}

// Option configures a Session before its socket is created.
type Option func(*Session)

// WithProtocol selects the CAN protocol family number (default RawProtocol).
func WithProtocol(p int) Option { return func(s *Session) { s.protocol = p } }

// WithFilters installs fs during construction instead of the match-all set.
func WithFilters(fs FilterSet) Option { return func(s *Session) { s.filters = fs } }

// WithFilterMask installs a single identifier/mask pair during construction.
func WithFilterMask(id can.ID, mask uint32) Option {
	return func(s *Session) { s.filters = FilterSet{id: mask} }
}

// WithDefaultSenderID sets the identifier substituted when a frame is sent
// with identifier 0.
func WithDefaultSenderID(id can.ID) Option { return func(s *Session) { s.defaultID = id } }

// Open creates a raw CAN socket, resolves iface to its kernel index, makes
// the descriptor non-blocking, installs the filter set and binds. Any step
// failing closes the partial socket and yields an InitError naming the step;
// no session is returned. The interface must already be administratively up.
func Open(iface string, opts ...Option) (*Session, error) {
	s := &Session{
		iface:       iface,
		protocol:    RawProtocol,
		filters:     MatchAll(),
		sizeTrusted: true,
	}
	for _, opt := range opts {
		opt(s)
	}

	fd, err := unix.Socket(unix.AF_CAN, unix.SOCK_RAW, s.protocol)
	if err != nil {
		return nil, &InitError{Step: "socket", Err: err}
	}
	ifi, err := net.InterfaceByName(iface)
	if err != nil {
		_ = unix.Close(fd)
		return nil, &InitError{Step: "interface", Err: err}
	}
	if err := unix.SetNonblock(fd, true); err != nil {
		_ = unix.Close(fd)
		return nil, &InitError{Step: "nonblock", Err: err}
	}
	if err := installFilters(fd, s.filters); err != nil {
		_ = unix.Close(fd)
		return nil, &InitError{Step: "filters", Err: err}
	}
	if err := unix.Bind(fd, &unix.SockaddrCAN{Ifindex: ifi.Index}); err != nil {
		_ = unix.Close(fd)
		return nil, &InitError{Step: "bind", Err: err}
	}

	s.fd = fd
	s.opened = true
	return s, nil
}

func installFilters(fd int, fs FilterSet) error {
	kernel := make([]unix.CanFilter, 0, len(fs))
	for id, mask := range fs {
		kernel = append(kernel, unix.CanFilter{Id: id.Raw(), Mask: mask})
	}
	if err := unix.SetsockoptCanRawFilter(fd, unix.SOL_CAN_RAW, unix.CAN_RAW_FILTER, kernel); err != nil {
		return &FilterError{Err: err}
	}
	return nil
}

// WaitForFrames blocks until the socket becomes readable or timeout elapses,
// reporting readability. Afterwards it refreshes the receive-queue estimate
// from TIOCINQ; the first ioctl failure downgrades the session to
// queue-size-unknown mode for its lifetime. Holds the receive lock for the
// full wait.
func (s *Session) WaitForFrames(timeout time.Duration) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.opened {
		return false, ErrClosed
	}

	var rfds unix.FdSet
	rfds.Zero()
	rfds.Set(s.fd)
	tv := unix.NsecToTimeval(timeout.Nanoseconds())
	n, err := unix.Select(s.fd+1, &rfds, nil, nil, &tv)
	if err != nil {
		if errors.Is(err, unix.EINTR) {
			return false, nil
		}
		return false, &IOError{Op: "select", Err: err}
	}

	if s.sizeTrusted {
		avail, ierr := unix.IoctlGetInt(s.fd, unix.TIOCINQ)
		if ierr != nil {
			s.sizeTrusted = false
			s.queueSize = 0
		} else {
			s.queueSize = (avail + FrameSize - 1) / FrameSize
		}
	}
	return n > 0 && rfds.IsSet(s.fd), nil
}

// ReadFrame performs exactly one non-blocking read of a classic CAN frame.
// With no frame queued the error wraps the platform would-block errno, which
// callers distinguish with errors.Is(err, unix.EAGAIN).
func (s *Session) ReadFrame() (can.Frame, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.readFrameLocked()
}

// readFrameLocked is ReadFrame without acquiring the receive lock, for use
// by the batch drain which already holds it.
func (s *Session) readFrameLocked() (can.Frame, error) {
	if !s.opened {
		return can.Frame{}, ErrClosed
	}
	var buf [FrameSize]byte
	n, err := unix.Read(s.fd, buf[:])
	if err != nil {
		return can.Frame{}, &IOError{Op: "read", Err: err}
	}
	if n != FrameSize {
		return can.Frame{}, &IOError{Op: "read", Err: fmt.Errorf("short frame: %d bytes", n)}
	}
	f := unmarshalFrame(&buf)
	if s.collectStamps {
		f.TimestampOffset = s.stampLocked()
	}
	return f, nil
}

// ReadQueuedFrames drains the frames currently buffered by the kernel. With
// a trusted queue estimate it performs exactly that many reads and any read
// error is fatal for the batch. In queue-size-unknown mode it reads until a
// read would block, treating would-block as end of batch. Either way the
// frames read before a failure are returned alongside the error.
func (s *Session) ReadQueuedFrames() ([]can.Frame, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.opened {
		return nil, ErrClosed
	}

	if s.sizeTrusted {
		frames := make([]can.Frame, 0, s.queueSize)
		for i := s.queueSize; i > 0; i-- {
			f, err := s.readFrameLocked()
			if err != nil {
				return frames, err
			}
			frames = append(frames, f)
		}
		return frames, nil
	}

	var frames []can.Frame
	for {
		f, err := s.readFrameLocked()
		if err != nil {
			if errors.Is(err, unix.EAGAIN) || errors.Is(err, unix.EWOULDBLOCK) {
				return frames, nil
			}
			return frames, err
		}
		frames = append(frames, f)
	}
}

// SendFrame writes one frame to the bus and returns the bytes written. A
// frame with identifier 0 is sent with the session's default sender
// identifier when one is configured. The extended-format wire flag is set
// when forceExtended is true or the identifier does not fit the standard
// 11-bit format. Sends serialize against each other but never against
// receives.
func (s *Session) SendFrame(f can.Frame, forceExtended bool) (int, error) {
	if int(f.Len) > can.MaxDataLen {
		return 0, can.ErrPayloadTooLarge
	}

	s.sendMu.Lock()
	defer s.sendMu.Unlock()
	if !s.opened {
		return 0, ErrClosed
	}

	if f.ID == 0 && s.defaultID != 0 {
		f.ID = s.defaultID
	}
	raw := f.ID.Raw()
	if forceExtended || raw > can.MaskStandard {
		raw |= can.FlagExtended
	}

	var buf [FrameSize]byte
	marshalFrame(&buf, raw, f.Len, f.Data)
	n, err := unix.Write(s.fd, buf[:])
	if err != nil {
		return 0, &IOError{Op: "write", Err: err}
	}
	return n, nil
}

// SendFrameQueue sends frames in order, sleeping delay between consecutive
// sends when delay > 0. The first failing send aborts the remainder; the
// prefix already written stays written. Returns the total bytes written.
func (s *Session) SendFrameQueue(frames []can.Frame, delay time.Duration, forceExtended bool) (int, error) {
	total := 0
	for i, f := range frames {
		if i > 0 && delay > 0 {
			time.Sleep(delay)
		}
		n, err := s.SendFrame(f, forceExtended)
		total += n
		if err != nil {
			return total, err
		}
	}
	return total, nil
}

// SetFilters replaces the installed acceptance filter set wholesale. The
// kernel applies the new array atomically; on failure the previous set stays
// in effect and a FilterError is returned.
func (s *Session) SetFilters(fs FilterSet) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.opened {
		return ErrClosed
	}
	if err := installFilters(s.fd, fs); err != nil {
		return err
	}
	s.filters = fs
	return nil
}

// SetFilterMask installs a single identifier/mask pair, replacing the
// current set.
func (s *Session) SetFilterMask(id can.ID, mask uint32) error {
	return s.SetFilters(FilterSet{id: mask})
}

// AllowFDFrames toggles kernel delivery of CAN FD frames on the socket.
// The session itself still reads classic frames only, so enabling this is
// useful solely for sessions that filter FD traffic out again.
func (s *Session) AllowFDFrames(enable bool) error {
	return s.setRawOption("CAN_RAW_FD_FRAMES", unix.CAN_RAW_FD_FRAMES, enable)
}

// JoinFilters switches the socket to AND semantics across the filter set.
func (s *Session) JoinFilters(enable bool) error {
	return s.setRawOption("CAN_RAW_JOIN_FILTERS", unix.CAN_RAW_JOIN_FILTERS, enable)
}

// SetErrorFilter toggles delivery of error frames. Enabled, the socket
// receives every error class.
func (s *Session) SetErrorFilter(enable bool) error {
	mask := 0
	if enable {
		mask = int(can.MaskExtended)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.opened {
		return ErrClosed
	}
	if err := unix.SetsockoptInt(s.fd, unix.SOL_CAN_RAW, unix.CAN_RAW_ERR_FILTER, mask); err != nil {
		return &InitError{Step: "option CAN_RAW_ERR_FILTER", Err: err}
	}
	return nil
}

// SetEchoOwnFrames toggles loopback of this socket's own transmissions.
func (s *Session) SetEchoOwnFrames(enable bool) error {
	return s.setRawOption("CAN_RAW_RECV_OWN_MSGS", unix.CAN_RAW_RECV_OWN_MSGS, enable)
}

// SetTelemetry toggles kernel receive timestamping. While enabled, frames
// returned by the read operations carry a TimestampOffset decoration.
func (s *Session) SetTelemetry(enable bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.opened {
		return ErrClosed
	}
	v := 0
	if enable {
		v = 1
	}
	if err := unix.SetsockoptInt(s.fd, unix.SOL_SOCKET, unix.SO_TIMESTAMP, v); err != nil {
		return &InitError{Step: "option SO_TIMESTAMP", Err: err}
	}
	s.collectStamps = enable
	return nil
}

// SetRelativeTimestamps switches timestamp decoration to offsets against the
// first frame observed after the switch.
func (s *Session) SetRelativeTimestamps(enable bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.relativeStamps = enable
	s.haveFirstStamp = false
}

// SetDefaultSenderID sets the identifier substituted for outgoing frames
// with identifier 0.
func (s *Session) SetDefaultSenderID(id can.ID) {
	s.sendMu.Lock()
	defer s.sendMu.Unlock()
	s.defaultID = id
}

func (s *Session) setRawOption(name string, opt int, enable bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.opened {
		return ErrClosed
	}
	v := 0
	if enable {
		v = 1
	}
	if err := unix.SetsockoptInt(s.fd, unix.SOL_CAN_RAW, opt, v); err != nil {
		return &InitError{Step: "option " + name, Err: err}
	}
	return nil
}

// stampLocked reads the kernel receive timestamp of the last delivered
// frame. Failures decay to a zero offset.
func (s *Session) stampLocked() time.Duration {
	var tv unix.Timeval
	if _, _, errno := unix.Syscall(unix.SYS_IOCTL, uintptr(s.fd), uintptr(unix.SIOCGSTAMP), uintptr(unsafe.Pointer(&tv))); errno != 0 {
		return 0
	}
	d := time.Duration(tv.Sec)*time.Second + time.Duration(tv.Usec)*time.Microsecond
	if s.relativeStamps {
		if !s.haveFirstStamp {
			s.firstStamp = d
			s.haveFirstStamp = true
		}
		return d - s.firstStamp
	}
	return d
}

// Close tears the socket down exactly once. Closing an already closed or
// never opened session fails with a CloseError, as does a failing close
// syscall.
func (s *Session) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sendMu.Lock()
	defer s.sendMu.Unlock()
	if !s.opened {
		return &CloseError{Err: ErrClosed}
	}
	if err := unix.Close(s.fd); err != nil {
		return &CloseError{Err: err}
	}
	s.fd = -1
	s.opened = false
	return nil
}

// SocketFD exposes the raw descriptor, mainly for tests and diagnostics.
// Closed and unopened sessions report -1.
func (s *Session) SocketFD() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.opened {
		return -1
	}
	return s.fd
}

// Interface returns the bound interface name.
func (s *Session) Interface() string { return s.iface }

// QueueSize returns the last receive-queue estimate and whether the estimate
// is trustworthy for this interface.
func (s *Session) QueueSize() (int, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.queueSize, s.sizeTrusted
}
