package geo

import (
	"fmt"
	"log"
	"net"
	"net/netip"
	"os"
	"path/filepath"
	"strings"

	"PacketRadar/internal/model"

	"github.com/oschwald/maxminddb-golang"
)

type cityRecord struct {
	Location struct {
		Latitude  float64 `maxminddb:"latitude"`
		Longitude float64 `maxminddb:"longitude"`
	} `maxminddb:"location"`
	Country countryFields `maxminddb:"country"`
}

type countryRecord struct {
	Country countryFields `maxminddb:"country"`
}

type countryFields struct {
	ISOCode string            `maxminddb:"iso_code"`
	Names   map[string]string `maxminddb:"names"`
}

func (c countryFields) label() string {
	if c.ISOCode != "" {
		return c.ISOCode
	}
	return c.Names["en"]
}

type asnRecord struct {
	Number       uint   `maxminddb:"autonomous_system_number"`
	Organization string `maxminddb:"autonomous_system_organization"`
}

// Databases is a Source backed by MaxMind-format city, ASN and country databases.
// Any of the three may be missing.
type Databases struct {
	city    *maxminddb.Reader
	asn     *maxminddb.Reader
	country *maxminddb.Reader
}

// OpenDatabases scans dir for *.mmdb files and keeps the first city, ASN and
// country database it finds, classified by the database type in each file's
// metadata. A missing directory or unreadable files are not errors: the
// returned Databases simply resolves nothing.
func OpenDatabases(dir string) (*Databases, error) {
	dbs := &Databases{}
	if dir == "" {
		return dbs, nil
	}
	if _, err := os.Stat(dir); err != nil {
		log.Printf("GeoIP directory %s not available: %v", dir, err)
		return dbs, nil
	}

	paths, err := filepath.Glob(filepath.Join(dir, "*.mmdb"))
	if err != nil {
		return nil, fmt.Errorf("failed to scan geoip directory: %w", err)
	}

	for _, path := range paths {
		r, err := maxminddb.Open(path)
		if err != nil {
			log.Printf("Skipping unreadable geoip database %s: %v", path, err)
			continue
		}
		if !dbs.adopt(r) {
			r.Close()
		}
	}

	if dbs.city == nil {
		log.Printf("No city database found in %s, points will be at (0,0).", dir)
	}
	return dbs, nil
}

// adopt assigns r to the first free slot matching its database type.
func (d *Databases) adopt(r *maxminddb.Reader) bool {
	t := strings.ToLower(r.Metadata.DatabaseType)
	switch {
	case strings.Contains(t, "city") && d.city == nil:
		d.city = r
	case strings.Contains(t, "asn") && d.asn == nil:
		d.asn = r
	case strings.Contains(t, "country") && d.country == nil:
		d.country = r
	default:
		return false
	}
	log.Printf("Loaded geoip database of type %s", r.Metadata.DatabaseType)
	return true
}

// Loaded reports whether at least one database is open.
func (d *Databases) Loaded() bool {
	return d.city != nil || d.asn != nil || d.country != nil
}

// Resolve looks ip up in every loaded database. Addresses the databases do not
// cover produce zeroed fields with ok still true.
func (d *Databases) Resolve(ip netip.Addr) (model.GeoInfo, bool) {
	if !d.Loaded() {
		return model.GeoInfo{}, false
	}
	netIP := net.IP(ip.AsSlice())

	var info model.GeoInfo
	if d.city != nil {
		var rec cityRecord
		if err := d.city.Lookup(netIP, &rec); err == nil {
			info.Lat = rec.Location.Latitude
			info.Lon = rec.Location.Longitude
			info.Country = rec.Country.label()
		}
	} else if d.country != nil {
		var rec countryRecord
		if err := d.country.Lookup(netIP, &rec); err == nil {
			info.Country = rec.Country.label()
		}
	}

	if d.asn != nil {
		var rec asnRecord
		if err := d.asn.Lookup(netIP, &rec); err == nil && (rec.Number != 0 || rec.Organization != "") {
			info.Org = fmt.Sprintf("%d %s", rec.Number, rec.Organization)
		}
	}
	return info, true
}

// Close releases every open database.
func (d *Databases) Close() error {
	for _, r := range []*maxminddb.Reader{d.city, d.asn, d.country} {
		if r != nil {
			r.Close()
		}
	}
	d.city, d.asn, d.country = nil, nil, nil
	return nil
}
