package protocol

import (
	"bufio"
	"bytes"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
)

// MaxLineLength bounds a single command or response line. Values are not
// lines and are not subject to it.
const MaxLineLength = 64 * 1024

// The messages of the request errors are written back to clients verbatim.
var (
	ErrUnknownCommand = errors.New("Unknown request received")
	ErrGetUsage       = errors.New("Error: Usage - get <key>")
	ErrSetUsage       = errors.New("Error: Usage - set <key> <size>")
	ErrSizeNotNumber  = errors.New("Error: Size has to be a number")
	ErrSizeTooLarge   = errors.New("Error: Size has to be less than")

	ErrLineTooLong        = errors.New("Line is longer than the maximum line length")
	ErrUnexpectedResponse = errors.New("Response has an unexpected header")
	ErrMalformedResponse  = errors.New("Response is malformed")
)

// ReadLine reads a single line terminated by "\r\n" and returns it with the
// terminator included. A "\n" that is not preceded by "\r" does not end the
// line.
//
// If the reader is exhausted before any byte is read io.EOF is returned,
// if it is exhausted part way through a line io.ErrUnexpectedEOF is.
func ReadLine(r *bufio.Reader) ([]byte, error) {
	var line []byte

	for {
		chunk, err := r.ReadSlice('\n')
		line = append(line, chunk...)

		if len(line) > MaxLineLength {
			return nil, ErrLineTooLong
		}

		if err == nil {
			if bytes.HasSuffix(line, Terminal) {
				return line, nil
			}

			// A bare LF, keep reading until the CRLF
			continue
		}

		if errors.Is(err, bufio.ErrBufferFull) {
			continue
		}

		if errors.Is(err, io.EOF) && len(line) > 0 {
			return nil, io.ErrUnexpectedEOF
		}

		return nil, err
	}
}

// ReadRequest reads bytes from the provided Reader and attempts to parse them
// as a single request. A set request will read exactly <size> value bytes
// after its command line, if <size> exceeds maxValueSize the value is not
// read and ErrSizeTooLarge is returned.
//
// Request errors wrap one of ErrUnknownCommand, ErrGetUsage, ErrSetUsage,
// ErrSizeNotNumber or ErrSizeTooLarge and their messages are suitable for
// sending back to the client. Any other error is an I/O error.
func ReadRequest(r *bufio.Reader, maxValueSize int) (Request, error) {
	rawReq, err := ReadLine(r)
	if err != nil {
		return nil, err
	}

	args := strings.Split(strings.TrimSpace(string(rawReq)), " ")

	switch Command(args[0]) {
	case GET:
		if len(args) != 2 {
			return nil, ErrGetUsage
		}

		return &GetRequest{Key: args[1]}, nil

	case SET:
		if len(args) != 3 {
			return nil, ErrSetUsage
		}

		size, err := strconv.Atoi(args[2])
		if err != nil || size < 0 {
			return nil, fmt.Errorf("%w (Received: %s)", ErrSizeNotNumber, args[2])
		}

		if size > maxValueSize {
			return nil, fmt.Errorf("%w %d", ErrSizeTooLarge, maxValueSize)
		}

		req := &SetRequest{Key: args[1], Value: make([]byte, size)}

		if _, err := io.ReadFull(r, req.Value); err != nil {
			return nil, fmt.Errorf("Failed to read %d value bytes for '%s': %w", size, req.Key, err)
		}

		return req, nil

	default:
		return nil, ErrUnknownCommand
	}
}

// IsRequestError reports whether err describes a bad request, as opposed to
// a failure of the underlying connection.
func IsRequestError(err error) bool {
	return errors.Is(err, ErrUnknownCommand) ||
		errors.Is(err, ErrGetUsage) ||
		errors.Is(err, ErrSetUsage) ||
		errors.Is(err, ErrSizeNotNumber) ||
		errors.Is(err, ErrSizeTooLarge)
}

// ReadSetResponse reads the status line sent in reply to a set and returns
// it without its terminator or surrounding whitespace. The content of the
// status is not checked.
func ReadSetResponse(r *bufio.Reader) (string, error) {
	line, err := ReadLine(r)
	if err != nil {
		return "", err
	}

	return strings.TrimSpace(string(line)), nil
}

// ReadGetResponse reads the reply to a get using the size announced in the
// `OK <size>` header to frame the value. It stops right after the value. A
// server may follow the value with a CRLF, see SkipValueTerminator.
func ReadGetResponse(r *bufio.Reader) (*GetResponse, error) {
	rawHeader, err := ReadLine(r)
	if err != nil {
		return nil, err
	}

	resp := &GetResponse{
		Header: strings.TrimSpace(string(rawHeader)),
		Raw:    rawHeader,
	}

	if resp.Header == string(StatusMissing) {
		return resp, nil
	}

	size, err := parseOkHeader(resp.Header)
	if err != nil {
		return resp, err
	}

	resp.Value = make([]byte, size)
	n, err := io.ReadFull(r, resp.Value)
	resp.Raw = append(resp.Raw, resp.Value[:n]...)
	if err != nil {
		return resp, fmt.Errorf("Failed to read %d value bytes: %w", size, err)
	}

	resp.Found = true
	return resp, nil
}

// SkipValueTerminator consumes the optional CRLF that may follow a
// length-framed value. It blocks until two bytes are available, so call it
// only when the next reply is due. No reply starts with a CRLF.
func SkipValueTerminator(r *bufio.Reader) error {
	next, err := r.Peek(len(Terminal))
	if err != nil {
		return err
	}

	if bytes.Equal(next, Terminal) {
		_, err = r.Discard(len(Terminal))
	}

	return err
}

// DrainGetResponse reads the reply to a get without trusting the size in its
// header. It reads the first line, then everything already buffered, then
// whatever drain reports as immediately available. The value is the second
// "\r\n" separated line of what was read.
//
// drain may be nil, in which case only buffered bytes are used.
func DrainGetResponse(r *bufio.Reader, drain func() ([]byte, error)) (*GetResponse, error) {
	rawHeader, err := ReadLine(r)
	if err != nil {
		return nil, err
	}

	raw := rawHeader
	if buffered := r.Buffered(); buffered > 0 {
		rest, _ := r.Peek(buffered)
		raw = append(raw, rest...)
		_, _ = r.Discard(buffered)
	}

	if drain != nil {
		more, err := drain()
		raw = append(raw, more...)
		if err != nil {
			return &GetResponse{Raw: raw}, err
		}
	}

	return ParseDrained(raw)
}

// ParseDrained extracts a get reply from the raw bytes read by a drain. The
// header is not interpreted beyond MISSING. A MISSING header, or fewer than
// two lines, yields a response that is not Found, so an absent value is never
// mistaken for an empty one.
func ParseDrained(raw []byte) (*GetResponse, error) {
	lines := strings.Split(string(raw), string(Terminal))

	resp := &GetResponse{
		Header: strings.TrimSpace(lines[0]),
		Raw:    raw,
	}

	if resp.Header == string(StatusMissing) {
		return resp, nil
	}

	if len(lines) < 2 {
		return resp, nil
	}

	resp.Value = []byte(lines[1])
	resp.Found = true
	return resp, nil
}

func parseOkHeader(header string) (int, error) {
	if !strings.HasPrefix(header, string(StatusOK)) {
		return 0, fmt.Errorf("'%s': %w", header, ErrUnexpectedResponse)
	}

	args := strings.Fields(header)
	if len(args) != 2 || args[0] != string(StatusOK) {
		return 0, fmt.Errorf("'%s' is not 'OK <size>': %w", header, ErrMalformedResponse)
	}

	size, err := strconv.Atoi(args[1])
	if err != nil || size < 0 {
		return 0, fmt.Errorf("'%s' has an invalid size: %w", header, ErrMalformedResponse)
	}

	return size, nil
}
