package api

import (
	"encoding/base64"
	"encoding/json"
	"fmt"

	"github.com/xssnick/tonutils-go/address"
	"github.com/xssnick/tonutils-go/tvm/cell"

	"NFTForge/internal/stateinit"
)

// MessageRequest is the body of POST /messages.
type MessageRequest struct {
	To   string `json:"to"`   // To is the destination, raw or user-friendly form
	Body string `json:"body"` // Body is the base64 BOC of the message body
}

// parseMessageRequest validates a POST /messages body.
func parseMessageRequest(raw []byte) (*address.Address, *cell.Cell, error) {
	if len(raw) == 0 {
		return nil, nil, fmt.Errorf("empty request")
	}

	var req MessageRequest
	if err := json.Unmarshal(raw, &req); err != nil {
		return nil, nil, fmt.Errorf("invalid json: %v", err)
	}

	to, err := stateinit.Parse(req.To)
	if err != nil || !stateinit.IsStd(to) {
		return nil, nil, fmt.Errorf("invalid destination %q", req.To)
	}

	boc, err := base64.StdEncoding.DecodeString(req.Body)
	if err != nil {
		return nil, nil, fmt.Errorf("body is not base64: %v", err)
	}

	if len(boc) == 0 {
		return nil, nil, fmt.Errorf("empty body")
	}

	body, err := cell.FromBOC(boc)
	if err != nil {
		return nil, nil, fmt.Errorf("invalid body boc: %v", err)
	}

	return to, body, nil
}
