package indexer

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"math/big"
	"net/http"
	"strconv"
	"strings"
	"time"
)

// rpcRequest is a JSON-RPC 2.0 envelope, matching the shape the teacher's deleted
// infrastructure/chain client used for NEO RPC calls, generalized here for EVM methods.
type rpcRequest struct {
	JSONRPC string `json:"jsonrpc"`
	ID      int    `json:"id"`
	Method  string `json:"method"`
	Params  []any  `json:"params"`
}

type rpcResponse struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      int             `json:"id"`
	Result  json.RawMessage `json:"result"`
	Error   *rpcError       `json:"error"`
}

type rpcError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

func (e *rpcError) Error() string {
	return fmt.Sprintf("rpc error %d: %s", e.Code, e.Message)
}

// RPCClient is a minimal EVM JSON-RPC client covering exactly the three methods the indexer
// loop needs: eth_blockNumber, eth_getBlockByNumber, eth_getLogs. Every call is wrapped by the
// caller in a context deadline (spec §5: "every RPC call... is wrapped in a 30s timeout").
type RPCClient struct {
	url        string
	httpClient *http.Client
}

// NewRPCClient builds a client against url.
func NewRPCClient(url string) *RPCClient {
	return &RPCClient{
		url:        url,
		httpClient: &http.Client{Timeout: 35 * time.Second},
	}
}

func (c *RPCClient) call(ctx context.Context, method string, params []any) (json.RawMessage, error) {
	reqBody, err := json.Marshal(rpcRequest{JSONRPC: "2.0", ID: 1, Method: method, Params: params})
	if err != nil {
		return nil, fmt.Errorf("marshal rpc request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(reqBody))
	if err != nil {
		return nil, fmt.Errorf("build rpc request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("rpc call %s: %w", method, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 500 {
		return nil, fmt.Errorf("rpc call %s: server error %d", method, resp.StatusCode)
	}

	var parsed rpcResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return nil, fmt.Errorf("decode rpc response for %s: %w", method, err)
	}
	if parsed.Error != nil {
		return nil, parsed.Error
	}
	return parsed.Result, nil
}

// BlockHeader is the subset of block fields the indexer needs: its number and its timestamp.
type BlockHeader struct {
	Number    uint64
	Timestamp time.Time
}

// BlockNumber returns the current chain head block number (eth_blockNumber).
func (c *RPCClient) BlockNumber(ctx context.Context) (uint64, error) {
	raw, err := c.call(ctx, "eth_blockNumber", nil)
	if err != nil {
		return 0, err
	}
	var hexStr string
	if err := json.Unmarshal(raw, &hexStr); err != nil {
		return 0, fmt.Errorf("parse eth_blockNumber result: %w", err)
	}
	return parseHexUint(hexStr)
}

// GetBlockByNumber fetches a block header by number (eth_getBlockByNumber, full tx flag false).
func (c *RPCClient) GetBlockByNumber(ctx context.Context, number uint64) (BlockHeader, error) {
	raw, err := c.call(ctx, "eth_getBlockByNumber", []any{toHexQuantity(number), false})
	if err != nil {
		return BlockHeader{}, err
	}
	if raw == nil || string(raw) == "null" {
		return BlockHeader{}, fmt.Errorf("block %d not found", number)
	}
	var block struct {
		Number    string `json:"number"`
		Timestamp string `json:"timestamp"`
	}
	if err := json.Unmarshal(raw, &block); err != nil {
		return BlockHeader{}, fmt.Errorf("parse eth_getBlockByNumber result: %w", err)
	}
	num, err := parseHexUint(block.Number)
	if err != nil {
		return BlockHeader{}, fmt.Errorf("parse block number: %w", err)
	}
	ts, err := parseHexUint(block.Timestamp)
	if err != nil {
		return BlockHeader{}, fmt.Errorf("parse block timestamp: %w", err)
	}
	return BlockHeader{Number: num, Timestamp: time.Unix(int64(ts), 0).UTC()}, nil
}

// GetLogs fetches logs matching filter (eth_getLogs).
func (c *RPCClient) GetLogs(ctx context.Context, filter LogFilter) ([]Log, error) {
	params := map[string]any{
		"fromBlock": toHexQuantity(filter.FromBlock),
		"toBlock":   toHexQuantity(filter.ToBlock),
	}
	if len(filter.Addresses) > 0 {
		params["address"] = filter.Addresses
	}
	raw, err := c.call(ctx, "eth_getLogs", []any{params})
	if err != nil {
		return nil, err
	}

	var rpcLogs []struct {
		Address         string   `json:"address"`
		Topics          []string `json:"topics"`
		Data            string   `json:"data"`
		BlockNumber     string   `json:"blockNumber"`
		TransactionHash string   `json:"transactionHash"`
		LogIndex        string   `json:"logIndex"`
	}
	if err := json.Unmarshal(raw, &rpcLogs); err != nil {
		return nil, fmt.Errorf("parse eth_getLogs result: %w", err)
	}

	logs := make([]Log, 0, len(rpcLogs))
	for _, l := range rpcLogs {
		blockNum, err := parseHexUint(l.BlockNumber)
		if err != nil {
			return nil, fmt.Errorf("parse log blockNumber: %w", err)
		}
		logIdx, err := parseHexUint(l.LogIndex)
		if err != nil {
			return nil, fmt.Errorf("parse log logIndex: %w", err)
		}
		logs = append(logs, Log{
			Address:         strings.ToLower(l.Address),
			Topics:          l.Topics,
			Data:            l.Data,
			BlockNumber:     blockNum,
			TransactionHash: l.TransactionHash,
			LogIndex:        uint32(logIdx),
		})
	}
	return logs, nil
}

func toHexQuantity(n uint64) string {
	return "0x" + strconv.FormatUint(n, 16)
}

func parseHexUint(s string) (uint64, error) {
	s = strings.TrimPrefix(s, "0x")
	if s == "" {
		return 0, nil
	}
	v, ok := new(big.Int).SetString(s, 16)
	if !ok {
		return 0, fmt.Errorf("invalid hex quantity %q", s)
	}
	return v.Uint64(), nil
}
