//go:build linux

package main

import (
	"bytes"
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"sync"
	"unsafe"

	"golang.org/x/sys/unix"
)

// ============================================================================
// ALSA control device (/dev/snd/controlC*) without alsa-lib
// ============================================================================
// Only the handful of ioctls needed to watch a PCM rate control:
//   - CARD_INFO to map a card id ("UAC2Gadget") to its index
//   - ELEM_INFO to resolve a control name to its numid
//   - ELEM_READ to read the integer value
//   - SUBSCRIBE_EVENTS, then read(2) struct snd_ctl_event records
//
// Struct layouts follow <sound/asound.h> for LP64 and ARM EABI.
// ============================================================================

const (
	ctlElemIfacePCM = 3

	ctlElemTypeInteger   = 1
	ctlElemTypeInteger64 = 6

	ctlEventElem       = 0
	ctlEventMaskRemove = ^uint32(0)

	maxSoundCards = 32
)

// struct snd_ctl_elem_id
type ctlElemID struct {
	Numid     uint32
	Iface     int32
	Device    uint32
	Subdevice uint32
	Name      [44]byte
	Index     uint32
}

// struct snd_ctl_card_info
type ctlCardInfo struct {
	Card       int32
	Pad        int32
	ID         [16]byte
	Driver     [16]byte
	Name       [32]byte
	Longname   [80]byte
	Reserved   [16]byte
	Mixername  [80]byte
	Components [128]byte
}

// struct snd_ctl_elem_info (value and dimen unions kept opaque)
type ctlElemInfo struct {
	ID       ctlElemID
	Type     int32
	Access   uint32
	Count    uint32
	Owner    int32
	Value    [128]byte
	Dimen    [8]byte
	Reserved [56]byte
}

// struct snd_ctl_elem_value. The value union holds C longs and is 8-byte
// aligned, hence the explicit pad after Indirect.
type ctlElemValue struct {
	ID       ctlElemID
	Indirect uint32
	_        uint32
	Integer  [128]int
	Reserved [128]byte
}

// struct snd_ctl_event with the elem member of the union
type ctlEvent struct {
	Type uint32
	Mask uint32
	ID   ctlElemID
}

const (
	iocWrite = 1
	iocRead  = 2
)

func ioc(dir, nr, size uintptr) uintptr {
	return dir<<30 | size<<16 | uintptr('U')<<8 | nr
}

var (
	ioctlCardInfo        = ioc(iocRead, 0x01, unsafe.Sizeof(ctlCardInfo{}))
	ioctlElemInfo        = ioc(iocRead|iocWrite, 0x11, unsafe.Sizeof(ctlElemInfo{}))
	ioctlElemRead        = ioc(iocRead|iocWrite, 0x12, unsafe.Sizeof(ctlElemValue{}))
	ioctlSubscribeEvents = ioc(iocRead|iocWrite, 0x16, unsafe.Sizeof(int32(0)))

	ctlEventSize = binary.Size(ctlEvent{})
)

func ioctl(fd int, req uintptr, arg unsafe.Pointer) error {
	_, _, errno := unix.Syscall(unix.SYS_IOCTL, uintptr(fd), req, uintptr(arg))
	if errno != 0 {
		return errno
	}
	return nil
}

func cString(b []byte) string {
	if i := bytes.IndexByte(b, 0); i >= 0 {
		b = b[:i]
	}
	return string(b)
}

func controlPath(card int) string {
	return fmt.Sprintf("/dev/snd/controlC%d", card)
}

// findCard resolves "UAC2Gadget", "hw:UAC2Gadget" or a numeric index.
func findCard(name string) (int, error) {
	name = strings.TrimPrefix(name, "hw:")
	if n, err := strconv.Atoi(name); err == nil {
		return n, nil
	}

	for i := 0; i < maxSoundCards; i++ {
		fd, err := unix.Open(controlPath(i), unix.O_RDONLY|unix.O_CLOEXEC, 0)
		if err != nil {
			continue
		}
		var info ctlCardInfo
		err = ioctl(fd, ioctlCardInfo, unsafe.Pointer(&info))
		unix.Close(fd)
		if err != nil {
			continue
		}
		if cString(info.ID[:]) == name {
			return i, nil
		}
	}
	return 0, fmt.Errorf("%w: %q", ErrCardNotFound, name)
}

// alsaSource watches the rate controls of one card.
type alsaSource struct {
	card   int
	fd     int
	wake   [2]int // self-pipe: Close writes wake[1] to unblock poll
	piped  bool
	logger *slog.Logger

	byNumid map[uint32]Direction
	numids  map[Direction]uint32

	mu      sync.Mutex // held by Next for its whole duration, and by Close
	closed  bool
	once    sync.Once
	buf     []byte
	pending []ctlEvent
}

// OpenALSASource opens the card's control device, resolves each direction's
// control and subscribes to events. Directions whose control is missing are
// left out of Directions(); if none is found the error wraps ErrControlNotFound.
func OpenALSASource(card string, controls map[Direction]string, logger *slog.Logger) (RateSource, error) {
	idx, err := findCard(card)
	if err != nil {
		return nil, err
	}

	fd, err := unix.Open(controlPath(idx), unix.O_RDWR|unix.O_CLOEXEC|unix.O_NONBLOCK, 0)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", controlPath(idx), err)
	}

	s := &alsaSource{
		card:    idx,
		fd:      fd,
		logger:  logger,
		byNumid: make(map[uint32]Direction),
		numids:  make(map[Direction]uint32),
		buf:     make([]byte, ctlEventSize*16),
	}

	for _, d := range allDirections {
		name, ok := controls[d]
		if !ok {
			continue
		}
		numid, err := s.lookup(name)
		if err != nil {
			logger.Debug("rate control lookup failed", "direction", d.String(), "control", name, "error", err)
			continue
		}
		logger.Debug("rate control found", "direction", d.String(), "control", name, "numid", numid)
		s.byNumid[numid] = d
		s.numids[d] = numid
	}
	if len(s.numids) == 0 {
		unix.Close(fd)
		return nil, fmt.Errorf("%w on card %q", ErrControlNotFound, card)
	}

	if err := unix.Pipe2(s.wake[:], unix.O_CLOEXEC|unix.O_NONBLOCK); err != nil {
		unix.Close(fd)
		return nil, fmt.Errorf("create wake pipe: %w", err)
	}
	s.piped = true

	on := int32(1)
	if err := ioctl(fd, ioctlSubscribeEvents, unsafe.Pointer(&on)); err != nil {
		s.closeFDs()
		return nil, fmt.Errorf("subscribe control events: %w", err)
	}
	return s, nil
}

func (s *alsaSource) lookup(name string) (uint32, error) {
	if len(name) >= len(ctlElemID{}.Name) {
		return 0, fmt.Errorf("control name %q too long", name)
	}
	info := ctlElemInfo{ID: ctlElemID{Iface: ctlElemIfacePCM}}
	copy(info.ID.Name[:], name)

	if err := ioctl(s.fd, ioctlElemInfo, unsafe.Pointer(&info)); err != nil {
		if errors.Is(err, unix.ENOENT) {
			return 0, fmt.Errorf("%w: %q", ErrControlNotFound, name)
		}
		return 0, fmt.Errorf("elem info %q: %w", name, err)
	}
	if info.Type != ctlElemTypeInteger && info.Type != ctlElemTypeInteger64 {
		return 0, fmt.Errorf("control %q is not an integer control (type %d)", name, info.Type)
	}
	return info.ID.Numid, nil
}

func (s *alsaSource) readValue(numid uint32) (int, error) {
	v := ctlElemValue{ID: ctlElemID{Numid: numid}}
	if err := ioctl(s.fd, ioctlElemRead, unsafe.Pointer(&v)); err != nil {
		return 0, fmt.Errorf("elem read numid %d: %w", numid, err)
	}
	return v.Integer[0], nil
}

func (s *alsaSource) Directions() []Direction {
	out := make([]Direction, 0, len(s.numids))
	for _, d := range allDirections {
		if _, ok := s.numids[d]; ok {
			out = append(out, d)
		}
	}
	return out
}

func (s *alsaSource) Current(d Direction) (int, error) {
	numid, ok := s.numids[d]
	if !ok {
		return 0, fmt.Errorf("%w: %s", ErrControlNotFound, d)
	}
	return s.readValue(numid)
}

func (s *alsaSource) Next() (RateEvent, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for {
		if s.closed {
			return RateEvent{}, ErrSourceClosed
		}

		for len(s.pending) > 0 {
			ev := s.pending[0]
			s.pending = s.pending[1:]

			s.logger.Log(context.Background(), LevelTrace, "control event", "numid", ev.ID.Numid, "index", ev.ID.Index, "mask", ev.Mask)
			if ev.Type != ctlEventElem || ev.Mask == ctlEventMaskRemove {
				continue
			}
			d, ok := s.byNumid[ev.ID.Numid]
			if !ok {
				continue
			}
			rate, err := s.readValue(ev.ID.Numid)
			if err != nil {
				return RateEvent{}, err
			}
			return RateEvent{Direction: d, Rate: rate}, nil
		}

		if err := s.fill(); err != nil {
			return RateEvent{}, err
		}
	}
}

// fill waits for the control fd (or the wake pipe) and decodes what is readable.
func (s *alsaSource) fill() error {
	fds := []unix.PollFd{
		{Fd: int32(s.fd), Events: unix.POLLIN},
		{Fd: int32(s.wake[0]), Events: unix.POLLIN},
	}
	if _, err := unix.Poll(fds, -1); err != nil {
		if errors.Is(err, unix.EINTR) {
			return nil
		}
		return fmt.Errorf("poll control device: %w", err)
	}
	if fds[1].Revents != 0 {
		s.closed = true
		return nil
	}
	if fds[0].Revents&(unix.POLLERR|unix.POLLHUP|unix.POLLNVAL) != 0 {
		return fmt.Errorf("control device error/hangup: %s (revents=%#x)", controlPath(s.card), fds[0].Revents)
	}

	n, err := unix.Read(s.fd, s.buf)
	if err != nil {
		if errors.Is(err, unix.EAGAIN) || errors.Is(err, unix.EINTR) {
			return nil
		}
		return fmt.Errorf("read control events: %w", err)
	}

	reader := bytes.NewReader(s.buf[:n])
	for reader.Len() >= ctlEventSize {
		var ev ctlEvent
		if err := binary.Read(reader, binary.NativeEndian, &ev); err != nil {
			break
		}
		s.pending = append(s.pending, ev)
	}
	return nil
}

func (s *alsaSource) Close() error {
	var err error
	s.once.Do(func() {
		_, _ = unix.Write(s.wake[1], []byte{1})
		s.mu.Lock()
		s.closed = true
		err = s.closeFDs()
		s.mu.Unlock()
	})
	return err
}

func (s *alsaSource) closeFDs() error {
	err := unix.Close(s.fd)
	if s.piped {
		unix.Close(s.wake[0])
		unix.Close(s.wake[1])
	}
	return err
}
