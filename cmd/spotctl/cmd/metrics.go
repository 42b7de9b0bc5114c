package cmd

import (
	"errors"
	"fmt"
	"io"
	"net"
	"net/url"
	"sort"
	"strconv"
	"strings"

	"github.com/olekukonko/tablewriter"
	dto "github.com/prometheus/client_model/go"
	"github.com/prometheus/common/expfmt"
	"github.com/spf13/cobra"
)

var (
	metricsURL    string
	metricsFilter string
)

var metricsCmd = &cobra.Command{
	Use:   "metrics",
	Short: "Show server metrics",
	Long: `Fetch the Prometheus metrics of the server and print them as a table.
By default the metrics server is assumed to run on port 9090 of the API host.`,
	Args: cobra.NoArgs,
	RunE: runMetrics,
}

func init() {
	rootCmd.AddCommand(metricsCmd)
	metricsCmd.Flags().StringVar(&metricsURL, "metrics-url", "", "metrics endpoint (default http://<server host>:9090/metrics)")
	metricsCmd.Flags().StringVar(&metricsFilter, "filter", "spotdl_", "only show metric families with this prefix")
}

// sample is one flattened metric value
type sample struct {
	Name   string  `json:"name"`
	Labels string  `json:"labels,omitempty"`
	Value  float64 `json:"value"`
}

func defaultMetricsURL() (string, error) {
	u, err := url.Parse(GetServerURL())
	if err != nil {
		return "", err
	}
	u.Host = net.JoinHostPort(u.Hostname(), "9090")
	u.Path = "/metrics"
	return u.String(), nil
}

func runMetrics(cmd *cobra.Command, _ []string) error {
	target := metricsURL
	if target == "" {
		var err error
		if target, err = defaultMetricsURL(); err != nil {
			return err
		}
	}

	req, err := CreateAuthenticatedRequest("GET", target, nil)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", string(expfmt.NewFormat(expfmt.TypeTextPlain)))
	client, err := GetHTTPClient()
	if err != nil {
		return err
	}
	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("failed to fetch metrics: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != 200 {
		return readAPIError(resp)
	}

	families, err := decodeFamilies(resp.Body, expfmt.ResponseFormat(resp.Header))
	if err != nil {
		return err
	}
	samples := flatten(families, metricsFilter)

	out := cmd.OutOrStdout()
	if IsJSONOutput() {
		return printJSON(out, samples)
	}
	table := tablewriter.NewWriter(out)
	table.Header("Metric", "Labels", "Value")
	for _, s := range samples {
		table.Append(s.Name, s.Labels, strconv.FormatFloat(s.Value, 'g', -1, 64))
	}
	table.Render()
	return nil
}

func decodeFamilies(r io.Reader, format expfmt.Format) ([]*dto.MetricFamily, error) {
	dec := expfmt.NewDecoder(r, format)
	var families []*dto.MetricFamily
	for {
		mf := &dto.MetricFamily{}
		if err := dec.Decode(mf); err != nil {
			if errors.Is(err, io.EOF) {
				return families, nil
			}
			return nil, fmt.Errorf("failed to decode metrics: %w", err)
		}
		families = append(families, mf)
	}
}

// flatten turns families into one row per series. Histograms and summaries
// report their sample count and sum.
func flatten(families []*dto.MetricFamily, prefix string) []sample {
	var out []sample
	for _, mf := range families {
		name := mf.GetName()
		if !strings.HasPrefix(name, prefix) {
			continue
		}
		for _, m := range mf.GetMetric() {
			labels := formatLabels(m.GetLabel())
			switch mf.GetType() {
			case dto.MetricType_COUNTER:
				out = append(out, sample{name, labels, m.GetCounter().GetValue()})
			case dto.MetricType_GAUGE:
				out = append(out, sample{name, labels, m.GetGauge().GetValue()})
			case dto.MetricType_HISTOGRAM:
				h := m.GetHistogram()
				out = append(out,
					sample{name + "_count", labels, float64(h.GetSampleCount())},
					sample{name + "_sum", labels, h.GetSampleSum()})
			case dto.MetricType_SUMMARY:
				s := m.GetSummary()
				out = append(out,
					sample{name + "_count", labels, float64(s.GetSampleCount())},
					sample{name + "_sum", labels, s.GetSampleSum()})
			default:
				out = append(out, sample{name, labels, m.GetUntyped().GetValue()})
			}
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

func formatLabels(pairs []*dto.LabelPair) string {
	parts := make([]string, 0, len(pairs))
	for _, p := range pairs {
		parts = append(parts, p.GetName()+"="+p.GetValue())
	}
	sort.Strings(parts)
	return strings.Join(parts, ",")
}
