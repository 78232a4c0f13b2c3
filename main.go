package main

import "github.com/audiolibrelab/fxrecorder/cmd"

func main() {
	cmd.Execute()
}
