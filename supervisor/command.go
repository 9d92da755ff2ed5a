package supervisor

import "strings"

// Command is the training invocation.
type Command struct {
	Path string
	Args []string
	Dir  string   // working directory, current when empty
	Env  []string // extra KEY=VALUE entries added to the inherited environment
}

// TrainCommand builds `<darknet> detector train <data> <cfg> <weights> -map -clear`.
func TrainCommand(darknet, dataSpec, modelConfig, weights string) Command {
	return Command{
		Path: darknet,
		Args: []string{"detector", "train", dataSpec, modelConfig, weights, "-map", "-clear"},
	}
}

// Argv returns the executable followed by its arguments.
func (c Command) Argv() []string {
	return append([]string{c.Path}, c.Args...)
}

// String renders the command line for logs.
func (c Command) String() string {
	return strings.Join(c.Argv(), " ")
}
