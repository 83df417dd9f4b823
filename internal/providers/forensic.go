package providers

import (
	"context"
	"net"
	"strings"

	"github.com/threatforge/enrichment-engine/internal/httpclient"
	"github.com/threatforge/enrichment-engine/pkg/models"
)

// Forensic gathers registration and network context: RDAP registration data,
// GeoIP placement for IPs and reverse DNS. It attributes nothing, so the
// verdict is always unknown; its value is the evidence trail analysts pivot
// on.
type Forensic struct {
	client *httpclient.Client
}

func NewForensic(client *httpclient.Client) *Forensic {
	return &Forensic{client: client}
}

func (a *Forensic) Name() string { return "forensic" }

func (a *Forensic) Enrich(ctx context.Context, value string, iocType models.IOCType) (models.NormalizedResult, error) {
	switch iocType {
	case models.IOCTypeDomain:
		return a.enrichDomain(ctx, value), nil
	case models.IOCTypeIPv4:
		return a.enrichIP(ctx, value), nil
	case models.IOCTypeURL:
		host := a.hostOf(value)
		if host == "" {
			return unknownResult("Could not extract host from URL", nil), nil
		}
		if net.ParseIP(host) != nil {
			return a.enrichIP(ctx, host), nil
		}
		return a.enrichDomain(ctx, host), nil
	default:
		return unsupportedType(iocType), nil
	}
}

func (a *Forensic) enrichDomain(ctx context.Context, domain string) models.NormalizedResult {
	findings := map[string]any{"domain": domain}
	var evidence []string

	if rdap := a.rdap(ctx, "https://rdap.org/domain/"+domain); rdap != nil {
		findings["rdap"] = rdap
		if reg := a.registrar(rdap); reg != "" {
			evidence = append(evidence, "Registrar: "+reg)
		}
		if created := a.rdapEvent(rdap, "registration"); created != "" {
			findings["registered_at"] = created
			evidence = append(evidence, "Registered: "+created)
		}
		if expires := a.rdapEvent(rdap, "expiration"); expires != "" {
			evidence = append(evidence, "Expires: "+expires)
		}
	}

	if addrs, err := net.DefaultResolver.LookupHost(ctx, domain); err == nil && len(addrs) > 0 {
		findings["resolved_ips"] = addrs
		evidence = append(evidence, "Resolves to "+strings.Join(limitStrings(addrs, 3), ", "))
	}

	ev := strings.Join(evidence, "; ")
	if ev == "" {
		ev = "No registration data found"
	}
	return models.NormalizedResult{
		Verdict:  models.VerdictUnknown,
		Evidence: ev,
		RawJSON:  findings,
	}
}

func (a *Forensic) enrichIP(ctx context.Context, ip string) models.NormalizedResult {
	findings := map[string]any{"ip": ip}
	var evidence []string

	if rdap := a.rdap(ctx, "https://rdap.org/ip/"+ip); rdap != nil {
		findings["rdap"] = rdap
		if name := digString(rdap, "name"); name != "" {
			evidence = append(evidence, "Network: "+name)
		}
	}

	if geo := a.geoIP(ctx, ip); geo != nil {
		findings["geoip"] = geo
		var place []string
		if city := digString(geo, "city"); city != "" {
			place = append(place, city)
		}
		if country := digString(geo, "country_name"); country != "" {
			place = append(place, country)
		}
		if len(place) > 0 {
			evidence = append(evidence, "Location: "+strings.Join(place, ", "))
		}
		if org := digString(geo, "org"); org != "" {
			evidence = append(evidence, "ASN org: "+org)
		}
	}

	if names, err := net.DefaultResolver.LookupAddr(ctx, ip); err == nil && len(names) > 0 {
		findings["rdns"] = names
		evidence = append(evidence, "rDNS: "+strings.TrimSuffix(names[0], "."))
	}

	ev := strings.Join(evidence, "; ")
	if ev == "" {
		ev = "No network data found"
	}
	return models.NormalizedResult{
		Verdict:  models.VerdictUnknown,
		Evidence: ev,
		RawJSON:  findings,
	}
}

func (a *Forensic) rdap(ctx context.Context, target string) map[string]any {
	resp, err := a.client.Get(ctx, target, nil, nil)
	if err != nil || resp.StatusCode != 200 {
		return nil
	}
	var raw map[string]any
	if err := resp.JSON(&raw); err != nil {
		return nil
	}
	return raw
}

func (a *Forensic) geoIP(ctx context.Context, ip string) map[string]any {
	resp, err := a.client.Get(ctx, "https://ipapi.co/"+ip+"/json/", nil, nil)
	if err != nil || resp.StatusCode != 200 {
		return nil
	}
	var raw map[string]any
	if err := resp.JSON(&raw); err != nil {
		return nil
	}
	return raw
}

// registrar pulls the registrar name from RDAP entities.
func (a *Forensic) registrar(rdap map[string]any) string {
	for _, item := range digSlice(rdap, "entities") {
		entity, ok := item.(map[string]any)
		if !ok {
			continue
		}
		for _, role := range digSlice(entity, "roles") {
			if s, ok := role.(string); ok && s == "registrar" {
				// vcardArray: ["vcard", [["fn", {}, "text", "Name"], ...]]
				vcard := digSlice(entity, "vcardArray")
				if len(vcard) < 2 {
					return ""
				}
				fields, _ := vcard[1].([]any)
				for _, f := range fields {
					parts, ok := f.([]any)
					if !ok || len(parts) < 4 {
						continue
					}
					if kind, _ := parts[0].(string); kind == "fn" {
						name, _ := parts[3].(string)
						return name
					}
				}
				return ""
			}
		}
	}
	return ""
}

// rdapEvent returns the eventDate for the named eventAction.
func (a *Forensic) rdapEvent(rdap map[string]any, action string) string {
	for _, item := range digSlice(rdap, "events") {
		event, ok := item.(map[string]any)
		if !ok {
			continue
		}
		if digString(event, "eventAction") == action {
			return digString(event, "eventDate")
		}
	}
	return ""
}

func (a *Forensic) hostOf(rawURL string) string {
	rest, ok := strings.CutPrefix(rawURL, "https://")
	if !ok {
		rest, ok = strings.CutPrefix(rawURL, "http://")
		if !ok {
			rest = rawURL
		}
	}
	host, _, _ := strings.Cut(rest, "/")
	host, _, _ = strings.Cut(host, ":")
	return host
}

func limitStrings(in []string, n int) []string {
	if len(in) > n {
		return in[:n]
	}
	return in
}
