package metrics

import (
	"bytes"
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/common/expfmt"
	"github.com/sbaerlocher/tuyametrics/internal/schema"
)

// ExpositionFormat is the content type of Expose output.
var ExpositionFormat = expfmt.NewFormat(expfmt.TypeTextPlain)

// Expose renders samples as Prometheus text exposition. Every call uses its own
// registry, so no value outlives the cycle that decoded it. Metrics the schema
// declares but samples lack are not emitted.
func Expose(s schema.Schema, samples schema.Samples) ([]byte, error) {
	reg := prometheus.NewRegistry()

	for _, m := range s.Metrics() {
		v, ok := samples[m.Key]
		if !ok {
			continue
		}
		g := prometheus.NewGauge(prometheus.GaugeOpts{
			Name: m.Name.String(),
			Help: m.Help,
		})
		g.Set(v)
		if err := reg.Register(g); err != nil {
			return nil, fmt.Errorf("register %s: %w", m.Name, err)
		}
	}

	families, err := reg.Gather()
	if err != nil {
		return nil, fmt.Errorf("gather: %w", err)
	}

	var buf bytes.Buffer
	enc := expfmt.NewEncoder(&buf, ExpositionFormat)
	for _, mf := range families {
		if err := enc.Encode(mf); err != nil {
			return nil, fmt.Errorf("encode %s: %w", mf.GetName(), err)
		}
	}
	return buf.Bytes(), nil
}
