// Package xui implements the remote client for 3x-ui style panels: login,
// inbound listing, per-protocol client provisioning and traffic queries.
package xui

import (
	"github.com/goccy/go-json"
)

// apiResponse is the envelope every 3x-ui endpoint answers with. Success
// is authoritative: some deployments soft-fail with HTTP 200.
type apiResponse struct {
	Success bool            `json:"success"`
	Msg     string          `json:"msg"`
	Obj     json.RawMessage `json:"obj"`
}

// Inbound is a raw remote inbound as returned by the panel. Settings and
// StreamSettings stay opaque JSON strings at this boundary.
type Inbound struct {
	Id             int    `json:"id"`
	Up             int64  `json:"up"`
	Down           int64  `json:"down"`
	Total          int64  `json:"total"`
	Remark         string `json:"remark"`
	Enable         bool   `json:"enable"`
	ExpiryTime     int64  `json:"expiryTime"`
	Listen         string `json:"listen"`
	Port           int    `json:"port"`
	Protocol       string `json:"protocol"`
	Settings       string `json:"settings"`
	StreamSettings string `json:"streamSettings"`
	Tag            string `json:"tag"`
	Sniffing       string `json:"sniffing"`
}

// ClientConfig is a single client entry inside an inbound's settings blob.
type ClientConfig struct {
	ID         string `json:"id,omitempty"`
	Password   string `json:"password,omitempty"`
	Flow       string `json:"flow,omitempty"`
	Email      string `json:"email"`
	LimitIP    int    `json:"limitIp"`
	TotalGB    int64  `json:"totalGB"`
	ExpiryTime int64  `json:"expiryTime"`
	Enable     bool   `json:"enable"`
	SubID      string `json:"subId,omitempty"`
	Comment    string `json:"comment,omitempty"`
	Reset      int    `json:"reset"`
}

// inboundSettings is the typed view of the fields this package reads from
// an inbound's settings blob.
type inboundSettings struct {
	Clients []ClientConfig `json:"clients"`
}

// ClientTraffic mirrors the panel's traffic counters for one client.
type ClientTraffic struct {
	Id         int    `json:"id"`
	InboundId  int    `json:"inboundId"`
	Enable     bool   `json:"enable"`
	Email      string `json:"email"`
	Up         int64  `json:"up"`
	Down       int64  `json:"down"`
	Total      int64  `json:"total"`
	ExpiryTime int64  `json:"expiryTime"`
}

// ClientSpec is the desired shape of a client to provision.
type ClientSpec struct {
	Email      string
	TotalGB    int64
	ExpiryTime int64
	LimitIP    int
	SubID      string
	Flow       string
}

// AddClientResult carries the panel-native identifier assigned at
// provisioning time plus a best-effort subscription URL.
type AddClientResult struct {
	Identifier ClientIdentifier
	SubURL     string
}
