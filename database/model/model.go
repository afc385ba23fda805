package model

type Protocol string

const (
	VMESS       Protocol = "vmess"
	VLESS       Protocol = "vless"
	Trojan      Protocol = "trojan"
	Shadowsocks Protocol = "shadowsocks"
)

// PanelType identifies the remote API dialect a panel speaks.
type PanelType string

const (
	PanelTypeXUI PanelType = "3x-ui"
)

// SelectionStrategy is the policy used to pick a panel among candidates.
type SelectionStrategy string

const (
	StrategyLeastLoad  SelectionStrategy = "least_load"
	StrategyRoundRobin SelectionStrategy = "round_robin"
	StrategyPriority   SelectionStrategy = "priority"
	StrategyBalanced   SelectionStrategy = "balanced"
)

// Location groups panels geographically for selection.
type Location struct {
	Id   int    `json:"id" gorm:"primaryKey;autoIncrement"`
	Name string `json:"name" gorm:"unique"`
	Flag string `json:"flag"`
}

// Panel is a remote VPN control-plane server. Username and Password hold
// vault-encrypted ciphertext, never plaintext.
type Panel struct {
	Id          int       `json:"id" gorm:"primaryKey;autoIncrement"`
	Name        string    `json:"name"`
	BaseUrl     string    `json:"baseUrl" gorm:"unique"`
	PanelType   PanelType `json:"panelType"`
	LocationId  int       `json:"locationId"`
	Username    string    `json:"-"`
	Password    string    `json:"-"`
	Priority    int       `json:"priority" gorm:"default:0"`
	IsPremium   bool      `json:"isPremium" gorm:"default:false"`
	IsActive    bool      `json:"isActive" gorm:"default:true"`
	IsHealthy   *bool     `json:"isHealthy"`
	LastChecked int64     `json:"lastChecked"`
}

// Healthy reports the tri-state health flag as a bool, treating unknown
// as unhealthy for selection purposes.
func (p *Panel) Healthy() bool {
	return p.IsHealthy != nil && *p.IsHealthy
}

// InboundListener is the local mirror of a remote inbound. Rows are owned
// by the synchronizer and are deactivated, never deleted, when the remote
// side vanishes.
type InboundListener struct {
	Id              int      `json:"id" gorm:"primaryKey;autoIncrement"`
	PanelId         int      `json:"panelId" gorm:"index:idx_panel_remote,unique"`
	RemoteInboundId int      `json:"remoteInboundId" gorm:"index:idx_panel_remote,unique"`
	Tag             string   `json:"tag"`
	Protocol        Protocol `json:"protocol"`
	Port            int      `json:"port"`
	ListenIp        string   `json:"listenIp"`
	PanelEnabled    bool     `json:"panelEnabled"`
	IsActive        bool     `json:"isActive" gorm:"default:true"`
	Settings        string   `json:"settings"`
	StreamSettings  string   `json:"streamSettings"`
	TotalGB         float64  `json:"totalGB"`
	ExpiryTime      int64    `json:"expiryTime"`
}

// PanelClient records a credential provisioned on a panel. It backs the
// least-load count, the panel deletion guard, and later update/delete/usage
// calls, which all need the (identifier, protocol, inbound) triple.
type PanelClient struct {
	Id         int      `json:"id" gorm:"primaryKey;autoIncrement"`
	PanelId    int      `json:"panelId" gorm:"index"`
	InboundId  int      `json:"inboundId"`
	Protocol   Protocol `json:"protocol"`
	Identifier string   `json:"identifier"`
	Email      string   `json:"email" gorm:"index"`
	IsActive   bool     `json:"isActive" gorm:"default:true"`
}

// Setting is a key/value row used for small engine state such as the
// per-location round-robin cursor.
type Setting struct {
	Id    int    `json:"id" gorm:"primaryKey;autoIncrement"`
	Key   string `json:"key" gorm:"unique"`
	Value string `json:"value"`
}
