package main

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/stormfeed/stormfeed/internal/decode"
)

// decodeCmd decodes raw frames from stdin, one per line, and prints the
// decoded events as JSON. Useful for poking at captured upstream traffic.
func decodeCmd() *cobra.Command {
	var vessel bool

	cmd := &cobra.Command{
		Use:   "decode",
		Short: "Decode raw feed frames from stdin",
		RunE: func(cmd *cobra.Command, args []string) error {
			dec := decode.Lightning
			if vessel {
				dec = decode.Vessel
			}

			scanner := bufio.NewScanner(os.Stdin)
			scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

			decoded, dropped := 0, 0
			for scanner.Scan() {
				e, ok := dec(scanner.Bytes())
				if !ok {
					dropped++
					continue
				}
				line, err := json.Marshal(e)
				if err != nil {
					return err
				}
				fmt.Println(string(line))
				decoded++
			}
			if err := scanner.Err(); err != nil {
				return err
			}

			fmt.Fprintf(os.Stderr, "decoded %d, dropped %d\n", decoded, dropped)
			return nil
		},
	}

	cmd.Flags().BoolVar(&vessel, "vessel", false, "decode vessel frames instead of lightning")
	return cmd
}
