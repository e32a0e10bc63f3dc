// vischeck opens the ISS Detector and IoT applications in a browser and
// saves screenshots proving the pages render.
package main

import "github.com/liuxd6825/vischeck/cmd"

func main() {
	cmd.Execute()
}
