package protocol

import (
	"io"
	"strconv"
	"strings"
)

var (
	OkTerminal      = []byte("OK\r\n")
	MissingTerminal = []byte("MISSING\r\n")
	Terminal        = []byte("\r\n")
)

// ValidKey reports whether key can be framed on the wire. Keys must be
// non-empty and free of spaces and line terminators.
func ValidKey(key string) bool {
	return key != "" && !strings.ContainsAny(key, " \r\n")
}

// EncodeSetHeader returns the command line of a set, without the value.
func EncodeSetHeader(key string, length int) []byte {
	b := make([]byte, 0, len(key)+16)
	b = append(b, string(SET)...)
	b = append(b, ' ')
	b = append(b, key...)
	b = append(b, ' ')
	b = strconv.AppendInt(b, int64(length), 10)
	return append(b, Terminal...)
}

// EncodeSet returns a complete set command: the command line followed by the
// raw value. The length field always equals len(value).
func EncodeSet(key string, value []byte) []byte {
	header := EncodeSetHeader(key, len(value))

	b := make([]byte, 0, len(header)+len(value))
	b = append(b, header...)
	return append(b, value...)
}

func EncodeGet(key string) []byte {
	b := make([]byte, 0, len(key)+6)
	b = append(b, string(GET)...)
	b = append(b, ' ')
	b = append(b, key...)
	return append(b, Terminal...)
}

// WriteSet writes a set command with a single call to w.
func WriteSet(w io.Writer, key string, value []byte) error {
	_, err := w.Write(EncodeSet(key, value))
	return err
}

func WriteGet(w io.Writer, key string) error {
	_, err := w.Write(EncodeGet(key))
	return err
}

func WriteOk(w io.Writer) error {
	_, err := w.Write(OkTerminal)
	return err
}

func WriteMissing(w io.Writer) error {
	_, err := w.Write(MissingTerminal)
	return err
}

// WriteValue writes a get hit: `OK <size>\r\n` followed by the value.
func WriteValue(w io.Writer, value []byte) error {
	b := make([]byte, 0, len(value)+16)
	b = append(b, string(StatusOK)...)
	b = append(b, ' ')
	b = strconv.AppendInt(b, int64(len(value)), 10)
	b = append(b, Terminal...)
	b = append(b, value...)

	_, err := w.Write(b)
	return err
}

// WriteError writes the error message as a single response line.
func WriteError(w io.Writer, errMsg string) error {
	b := append([]byte(errMsg), Terminal...)
	_, err := w.Write(b)
	return err
}
