// Package sub renders protocol-specific connection URIs from synced
// inbound settings and a client's native identifier.
package sub

import (
	"encoding/base64"
	"fmt"
	"net/url"
	"strings"

	"github.com/goccy/go-json"

	"github.com/multix-dev/multix/database/model"
	"github.com/multix-dev/multix/logger"
	"github.com/multix-dev/multix/util/common"
	"github.com/multix-dev/multix/xui"
)

// LinkService builds user-facing connection URIs. Generation is pure: it
// reads only the panel row, the synced inbound blobs and the identifier.
type LinkService struct{}

// GenerateConfigLink renders the connection URI for a client on an
// inbound. Unsupported protocols yield an empty string with a warning;
// the caller decides whether that is fatal. Malformed inbound settings
// surface as a config generation error since they indicate corrupted
// inventory.
func (s *LinkService) GenerateConfigLink(panel *model.Panel, inbound *model.InboundListener, ident xui.ClientIdentifier, remark string) (string, error) {
	host, err := hostFor(panel)
	if err != nil {
		return "", err
	}

	switch inbound.Protocol {
	case model.VLESS:
		return s.genVlessLink(host, inbound, ident, remark)
	case model.VMESS:
		return s.genVmessLink(host, inbound, ident, remark)
	case model.Trojan:
		return s.genTrojanLink(host, inbound, ident, remark)
	case model.Shadowsocks:
		return s.genShadowsocksLink(host, inbound, ident, remark)
	}
	logger.Warningf("config link: unsupported protocol %q on inbound %d", inbound.Protocol, inbound.Id)
	return "", nil
}

func (s *LinkService) genVlessLink(host string, inbound *model.InboundListener, ident xui.ClientIdentifier, remark string) (string, error) {
	if ident.Field != xui.FieldUUID {
		return "", common.NewConfigError("vless link requires a uuid identifier, got %s", ident.Field)
	}
	stream, network, err := parseStream(inbound)
	if err != nil {
		return "", err
	}

	params := transportParams(stream, network)
	securityParams(stream, params)
	if params["security"] == "reality" {
		if flow := clientFlow(inbound, ident); flow != "" {
			params["flow"] = flow
		}
	}

	u := &url.URL{
		Scheme:   "vless",
		User:     url.User(ident.Value),
		Host:     fmt.Sprintf("%s:%d", host, inbound.Port),
		Fragment: remark,
	}
	q := u.Query()
	for k, v := range params {
		q.Add(k, v)
	}
	u.RawQuery = q.Encode()
	return u.String(), nil
}

func (s *LinkService) genVmessLink(host string, inbound *model.InboundListener, ident xui.ClientIdentifier, remark string) (string, error) {
	if ident.Field != xui.FieldUUID {
		return "", common.NewConfigError("vmess link requires a uuid identifier, got %s", ident.Field)
	}
	stream, network, err := parseStream(inbound)
	if err != nil {
		return "", err
	}

	params := transportParams(stream, network)
	securityParams(stream, params)

	obj := map[string]any{
		"v":    "2",
		"ps":   remark,
		"add":  host,
		"port": inbound.Port,
		"id":   ident.Value,
		"aid":  0,
		"scy":  "auto",
		"net":  network,
		"type": params["headerType"],
		"host": params["host"],
		"path": params["path"],
		"tls":  params["security"],
		"sni":  params["sni"],
		"alpn": params["alpn"],
		"fp":   params["fp"],
	}
	if obj["type"] == "" {
		obj["type"] = "none"
	}
	if network == "grpc" {
		obj["path"] = params["serviceName"]
		obj["type"] = params["mode"]
	}
	// Empty fields are stripped before encoding per the AEAD link
	// convention.
	for k, v := range obj {
		if s, ok := v.(string); ok && s == "" {
			delete(obj, k)
		}
	}

	blob, err := json.Marshal(obj)
	if err != nil {
		return "", err
	}
	return "vmess://" + base64.StdEncoding.EncodeToString(blob), nil
}

func (s *LinkService) genTrojanLink(host string, inbound *model.InboundListener, ident xui.ClientIdentifier, remark string) (string, error) {
	if ident.Field != xui.FieldPassword {
		return "", common.NewConfigError("trojan link requires a password identifier, got %s", ident.Field)
	}
	stream, network, err := parseStream(inbound)
	if err != nil {
		return "", err
	}

	params := transportParams(stream, network)
	securityParams(stream, params)

	u := &url.URL{
		Scheme:   "trojan",
		User:     url.User(ident.Value),
		Host:     fmt.Sprintf("%s:%d", host, inbound.Port),
		Fragment: remark,
	}
	q := u.Query()
	for k, v := range params {
		q.Add(k, v)
	}
	u.RawQuery = q.Encode()
	return u.String(), nil
}

func (s *LinkService) genShadowsocksLink(host string, inbound *model.InboundListener, ident xui.ClientIdentifier, remark string) (string, error) {
	if ident.Field != xui.FieldEmail {
		return "", common.NewConfigError("shadowsocks link requires an email identifier, got %s", ident.Field)
	}
	stream, network, err := parseStream(inbound)
	if err != nil {
		return "", err
	}

	var settings map[string]any
	if err := json.Unmarshal([]byte(inbound.Settings), &settings); err != nil {
		return "", common.NewConfigError("inbound %d settings: %v", inbound.Id, err)
	}
	method, _ := settings["method"].(string)
	if method == "" {
		return "", common.NewConfigError("inbound %d settings missing method", inbound.Id)
	}

	client := findClient(inbound, ident)
	if client == nil || client.Password == "" {
		return "", common.NewConfigError("inbound %d has no client %s", inbound.Id, ident.Value)
	}

	encPart := fmt.Sprintf("%s:%s", method, client.Password)
	if strings.HasPrefix(method, "2022") {
		inboundPassword, _ := settings["password"].(string)
		encPart = fmt.Sprintf("%s:%s:%s", method, inboundPassword, client.Password)
	}

	params := transportParams(stream, network)
	u := &url.URL{
		Scheme:   "ss",
		User:     url.User(base64.StdEncoding.EncodeToString([]byte(encPart))),
		Host:     fmt.Sprintf("%s:%d", host, inbound.Port),
		Fragment: remark,
	}
	q := u.Query()
	for k, v := range params {
		q.Add(k, v)
	}
	u.RawQuery = q.Encode()
	return u.String(), nil
}

// hostFor extracts the connect address from the panel's base URL.
func hostFor(panel *model.Panel) (string, error) {
	u, err := url.Parse(panel.BaseUrl)
	if err != nil || u.Hostname() == "" {
		return "", common.NewConfigError("panel %d has no usable host in base url", panel.Id)
	}
	return u.Hostname(), nil
}

// parseStream decodes the stream settings blob and extracts the network,
// which every link format requires.
func parseStream(inbound *model.InboundListener) (map[string]any, string, error) {
	var stream map[string]any
	if err := json.Unmarshal([]byte(inbound.StreamSettings), &stream); err != nil {
		return nil, "", common.NewConfigError("inbound %d stream settings: %v", inbound.Id, err)
	}
	network, _ := stream["network"].(string)
	if network == "" {
		return nil, "", common.NewConfigError("inbound %d stream settings missing network", inbound.Id)
	}
	return stream, network, nil
}

// transportParams maps network-specific stream settings onto link query
// parameters. Unknown networks degrade to just the type parameter.
func transportParams(stream map[string]any, network string) map[string]string {
	params := map[string]string{"type": network}

	switch network {
	case "tcp":
		tcp, _ := stream["tcpSettings"].(map[string]any)
		header, _ := tcp["header"].(map[string]any)
		headerType, _ := header["type"].(string)
		if headerType == "http" {
			params["headerType"] = "http"
			request, _ := header["request"].(map[string]any)
			if paths, ok := request["path"].([]any); ok && len(paths) > 0 {
				params["path"], _ = paths[0].(string)
			}
			headers, _ := request["headers"].(map[string]any)
			if host := searchHost(headers); host != "" {
				params["host"] = host
			}
		}
	case "ws":
		ws, _ := stream["wsSettings"].(map[string]any)
		if path, ok := ws["path"].(string); ok && path != "" {
			params["path"] = path
		}
		headers, _ := ws["headers"].(map[string]any)
		if host := searchHost(headers); host != "" {
			params["host"] = host
		}
	case "grpc":
		grpc, _ := stream["grpcSettings"].(map[string]any)
		if name, ok := grpc["serviceName"].(string); ok {
			params["serviceName"] = name
		}
		if multi, _ := grpc["multiMode"].(bool); multi {
			params["mode"] = "multi"
		} else {
			params["mode"] = "gun"
		}
	}
	return params
}

// securityParams maps tls/reality stream settings onto link query
// parameters. Unknown security values degrade to "none" without error.
func securityParams(stream map[string]any, params map[string]string) {
	security, _ := stream["security"].(string)

	switch security {
	case "tls":
		params["security"] = "tls"
		tlsSettings, _ := stream["tlsSettings"].(map[string]any)
		if sni, ok := tlsSettings["serverName"].(string); ok && sni != "" {
			params["sni"] = sni
		}
		if alpns, ok := tlsSettings["alpn"].([]any); ok && len(alpns) > 0 {
			var alpn []string
			for _, a := range alpns {
				if v, ok := a.(string); ok {
					alpn = append(alpn, v)
				}
			}
			if len(alpn) > 0 {
				params["alpn"] = strings.Join(alpn, ",")
			}
		}
		if fp, ok := searchKey(tlsSettings, "fingerprint"); ok {
			if v, ok := fp.(string); ok && v != "" {
				params["fp"] = v
			}
		}
	case "reality":
		params["security"] = "reality"
		realitySettings, _ := stream["realitySettings"].(map[string]any)
		if names, ok := realitySettings["serverNames"].([]any); ok && len(names) > 0 {
			params["sni"], _ = names[0].(string)
		}
		if pbk, ok := searchKey(realitySettings, "publicKey"); ok {
			params["pbk"], _ = pbk.(string)
		}
		if sids, ok := realitySettings["shortIds"].([]any); ok && len(sids) > 0 {
			params["sid"], _ = sids[0].(string)
		}
		if fp, ok := searchKey(realitySettings, "fingerprint"); ok {
			if v, ok := fp.(string); ok && v != "" {
				params["fp"] = v
			}
		}
		if spx, ok := searchKey(realitySettings, "spiderX"); ok {
			if v, ok := spx.(string); ok && v != "" {
				params["spx"] = v
			}
		}
	default:
		params["security"] = "none"
	}
}

// clientFlow reads the flow value from the inbound's client settings for
// the client carrying the identifier.
func clientFlow(inbound *model.InboundListener, ident xui.ClientIdentifier) string {
	client := findClient(inbound, ident)
	if client == nil {
		return ""
	}
	return client.Flow
}

func findClient(inbound *model.InboundListener, ident xui.ClientIdentifier) *xui.ClientConfig {
	var settings struct {
		Clients []xui.ClientConfig `json:"clients"`
	}
	if err := json.Unmarshal([]byte(inbound.Settings), &settings); err != nil {
		return nil
	}
	for i := range settings.Clients {
		if ident.Matches(&settings.Clients[i]) {
			return &settings.Clients[i]
		}
	}
	return nil
}

// searchKey walks a nested JSON document for the first occurrence of key.
func searchKey(data any, key string) (any, bool) {
	switch val := data.(type) {
	case map[string]any:
		for k, v := range val {
			if k == key {
				return v, true
			}
			if result, ok := searchKey(v, key); ok {
				return result, true
			}
		}
	case []any:
		for _, v := range val {
			if result, ok := searchKey(v, key); ok {
				return result, true
			}
		}
	}
	return nil, false
}

// searchHost finds a Host header in a headers object, tolerating both
// scalar and list values.
func searchHost(headers any) string {
	data, _ := headers.(map[string]any)
	for k, v := range data {
		if !strings.EqualFold(k, "host") {
			continue
		}
		switch hv := v.(type) {
		case []any:
			if len(hv) > 0 {
				host, _ := hv[0].(string)
				return host
			}
			return ""
		case string:
			return hv
		}
	}
	return ""
}
