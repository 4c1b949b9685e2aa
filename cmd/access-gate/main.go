// Command access-gate runs the access-gate policy decision point.
package main

import (
	_ "time/tzdata" // time_range conditions need IANA zones on hosts without tzdata

	"github.com/Sentinel-Gate/accessgate/cmd/access-gate/cmd"
)

func main() {
	cmd.Execute()
}
