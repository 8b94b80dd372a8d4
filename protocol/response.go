package protocol

// GetResponse is a decoded reply to a get command.
type GetResponse struct {
	// Header is the first response line with surrounding whitespace trimmed
	Header string

	// Found is false when the server reported the key as missing, or when
	// no payload line could be extracted.
	Found bool

	Value []byte

	// Raw holds every byte consumed while decoding, for diagnostics.
	Raw []byte
}
