package replication

import (
	"bytes"
	"encoding/json"
	"mime/multipart"
	"net/textproto"
)

// EncodeMultipartMixed packs open-revs entries into a multipart/mixed body,
// one application/json part per entry. The returned content type carries the
// generated boundary.
func EncodeMultipartMixed(entries []json.RawMessage) (string, []byte, error) {
	var body bytes.Buffer
	writer := multipart.NewWriter(&body)

	for _, entry := range entries {
		header := textproto.MIMEHeader{}
		header.Set("Content-Type", "application/json")
		part, err := writer.CreatePart(header)
		if err != nil {
			return "", nil, err
		}
		if _, err := part.Write(entry); err != nil {
			return "", nil, err
		}
	}
	if err := writer.Close(); err != nil {
		return "", nil, err
	}
	return "multipart/mixed; boundary=" + writer.Boundary(), body.Bytes(), nil
}
