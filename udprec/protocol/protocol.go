/*
Package protocol contains tools for framing records into udprec datagrams.

A frame is the record's 4 byte ID in network-byte-order immediately followed by the UTF-8 bytes of its text.
There is no length prefix, terminator, or checksum; the datagram boundary delimits the frame.
You should never have to interact with the raw bits or endian-ness of a frame.
*/
package protocol

import (
	"encoding/binary"
	"errors"
	"strconv"
	"unicode/utf8"

	"github.com/rflandau/udprec/udprec"
	"github.com/rs/zerolog"
)

// A Record is the unit of exchange: an identifier paired with a text payload.
// Records are values; Encode and Decode consume and produce copies and never alter a Record in place.
type Record struct {
	// ID carries no uniqueness guarantee at this layer.
	ID uint32
	// Text must fit into MaxTextSize bytes once UTF-8 encoded.
	Text string
}

// Zerolog attaches the record's fields to the given log event.
// Intended to be given to *zerolog.Event.Func().
func (r Record) Zerolog(ev *zerolog.Event) {
	ev.Uint32("id", r.ID).Str("text", r.Text)
}

// String returns the record in the form "[id : text]".
func (r Record) String() string {
	return "[" + strconv.FormatUint(uint64(r.ID), 10) + " : " + r.Text + "]"
}

//#region errors

var (
	ErrFrameTooShort = errors.New("frame must contain at least " + strconv.Itoa(udprec.IDLen) + " bytes")
	ErrFrameTooLong  = errors.New("frame must not exceed " + strconv.Itoa(udprec.MaxFrameSize) + " bytes")
	ErrInvalidUTF8   = errors.New("text is not valid UTF-8")
)

// PayloadTooLargeError is returned by Encode when a record does not fit into a single frame.
// Excess is the number of bytes the caller must shave off the text for the record to fit.
type PayloadTooLargeError struct {
	Size   int // size (in bytes) the frame would have had
	Excess int // Size - MaxFrameSize
}

func (e *PayloadTooLargeError) Error() string {
	return "frame of " + strconv.Itoa(e.Size) + " bytes exceeds the " + strconv.Itoa(udprec.MaxFrameSize) +
		" byte limit by " + strconv.Itoa(e.Excess) + " bytes"
}

// Is allows errors.Is(err, &PayloadTooLargeError{}) to match regardless of sizes.
func (e *PayloadTooLargeError) Is(target error) bool {
	_, ok := target.(*PayloadTooLargeError)
	return ok
}

//#endregion errors

// FrameLen returns the size (in bytes) r will occupy on the wire.
func FrameLen(r Record) int {
	return udprec.IDLen + len(r.Text)
}

// Encode returns r as a frame in network-byte-order.
//
// Text is never truncated; if the frame would exceed MaxFrameSize a *PayloadTooLargeError is returned and no frame is
// produced. Text that is not valid UTF-8 is rejected with ErrInvalidUTF8 so every frame Encode emits can be decoded.
//
// Performs a single allocation of exactly FrameLen(r) bytes.
func Encode(r Record) ([]byte, error) {
	size := FrameLen(r)
	if size > udprec.MaxFrameSize {
		return nil, &PayloadTooLargeError{Size: size, Excess: size - udprec.MaxFrameSize}
	}
	if !utf8.ValidString(r.Text) {
		return nil, ErrInvalidUTF8
	}

	out := make([]byte, size)
	binary.BigEndian.PutUint32(out, r.ID)
	copy(out[udprec.IDLen:], r.Text)
	return out, nil
}

// Decode builds a record from the given frame.
//
// Frames shorter than IDLen or longer than MaxFrameSize are rejected, as is text that is not valid UTF-8
// (no replacement characters are substituted). On error, the zero Record is returned.
//
// The returned record does not alias frame; the caller may reuse frame immediately.
func Decode(frame []byte) (Record, error) {
	if len(frame) < udprec.IDLen {
		return Record{}, ErrFrameTooShort
	} else if len(frame) > udprec.MaxFrameSize {
		return Record{}, ErrFrameTooLong
	}
	body := frame[udprec.IDLen:]
	if !utf8.Valid(body) {
		return Record{}, ErrInvalidUTF8
	}
	return Record{
		ID:   binary.BigEndian.Uint32(frame),
		Text: string(body),
	}, nil
}
