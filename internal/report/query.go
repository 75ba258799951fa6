package report

import (
	"fmt"

	"github.com/tidwall/gjson"
)

// Query evaluates a gjson path against a JSON report, e.g.
// `regions.#(region=="hello").passes.#.status`
func Query(data []byte, path string) (gjson.Result, error) {
	if !gjson.ValidBytes(data) {
		return gjson.Result{}, fmt.Errorf("report: not valid JSON")
	}
	res := gjson.GetBytes(data, path)
	if !res.Exists() {
		return res, fmt.Errorf("report: %q matched nothing", path)
	}
	return res, nil
}

// PassStatus returns the status a pass reached on a region in a JSON report
func PassStatus(data []byte, region, pass string) (string, bool) {
	path := fmt.Sprintf(`regions.#(region==%q).passes.#(name==%q).status`, region, pass)
	res := gjson.GetBytes(data, path)
	if !res.Exists() {
		return "", false
	}
	return res.String(), true
}
