package iotrix

import (
	"math"
	"strconv"
	"strings"

	"github.com/samber/lo"
	"github.com/tidwall/gjson"
)

// Logical values extracted from vendor responses. The issuer does not publish
// a schema, so each one maps to an ordered list of gjson paths and the first
// path present in the body wins.
const (
	FieldPVPower         = "pv_power"
	FieldVoltage         = "voltage"
	FieldDailyGeneration = "daily_generation"
	FieldTotalGeneration = "total_generation"
	FieldBatterySoc      = "battery_soc"

	FieldLoginToken = "login_token"

	FieldQrID       = "qr_id"
	FieldQrImage    = "qr_image"
	FieldQrURL      = "qr_url"
	FieldQrStatus   = "qr_status"
	FieldQrTempCode = "qr_temp_code"
	FieldQrExpired  = "qr_expired"
	FieldQrToken    = "qr_token"
)

// FieldAliases maps a logical field to its candidate paths.
type FieldAliases map[string][]string

// DefaultFieldAliases returns the alias table observed across deployments.
func DefaultFieldAliases() FieldAliases {
	return FieldAliases{
		FieldPVPower:         {"data.pvPower", "data.pv_power", "data.power"},
		FieldVoltage:         {"data.voltage", "data.pvVoltage", "data.gridVoltage"},
		FieldDailyGeneration: {"data.dailyGen", "data.dailyGeneration", "data.todayEnergy"},
		FieldTotalGeneration: {"data.totalGen", "data.totalGeneration", "data.totalEnergy"},
		FieldBatterySoc:      {"data.batterySoc", "data.battery_soc", "data.soc"},

		FieldLoginToken: {"data.token", "data.accessToken", "data.jwt", "token", "accessToken"},

		FieldQrID:       {"data.qrcodeId", "data.ticket", "data.id"},
		FieldQrImage:    {"data.qrcodeBase64", "data.base64"},
		FieldQrURL:      {"data.qrcodeUrl", "data.url"},
		FieldQrStatus:   {"data.status", "data.state"},
		FieldQrTempCode: {"data.code", "data.authCode"},
		FieldQrExpired:  {"data.expired"},
		FieldQrToken:    {"data.token", "data.accessToken", "data.jwt"},
	}
}

// Merge returns a copy of a with the entries of override replacing whole
// alias lists.
func (a FieldAliases) Merge(override FieldAliases) FieldAliases {
	out := make(FieldAliases, len(a)+len(override))
	for k, v := range a {
		out[k] = v
	}
	for k, v := range override {
		if len(v) > 0 {
			out[k] = v
		}
	}
	return out
}

// ParseFieldAliases parses overrides of the form "field=path1|path2".
func ParseFieldAliases(raw map[string]string) FieldAliases {
	out := make(FieldAliases, len(raw))
	for field, paths := range raw {
		candidates := lo.Compact(lo.Map(strings.Split(paths, "|"), func(p string, _ int) string {
			return strings.TrimSpace(p)
		}))
		if len(candidates) > 0 {
			out[strings.TrimSpace(field)] = candidates
		}
	}
	return out
}

func (a FieldAliases) lookup(body []byte, field string) gjson.Result {
	for _, path := range a[field] {
		if r := gjson.GetBytes(body, path); r.Exists() && r.Type != gjson.Null {
			return r
		}
	}
	return gjson.Result{}
}

// String returns the first present alias as a string, or "".
func (a FieldAliases) String(body []byte, field string) string {
	return a.lookup(body, field).String()
}

// Float returns the first present alias as a number. Absent or non-numeric
// values yield 0.
func (a FieldAliases) Float(body []byte, field string) float64 {
	r := a.lookup(body, field)
	switch r.Type {
	case gjson.Number:
		return r.Num
	case gjson.String:
		f, err := strconv.ParseFloat(strings.TrimSpace(r.Str), 64)
		if err == nil && !math.IsNaN(f) && !math.IsInf(f, 0) {
			return f
		}
	}
	return 0
}

// Bool returns the first present alias as a boolean, or false.
func (a FieldAliases) Bool(body []byte, field string) bool {
	r := a.lookup(body, field)
	switch r.Type {
	case gjson.True:
		return true
	case gjson.String:
		b, _ := strconv.ParseBool(r.Str)
		return b
	case gjson.Number:
		return r.Num != 0
	}
	return false
}
