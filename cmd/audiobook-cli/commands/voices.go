package commands

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"pdf-audiobook/internal/synth"
)

var voicesCmd = &cobra.Command{
	Use:   "voices",
	Short: "List voices the speech engine provides",
	RunE:  runVoices,
}

func init() {
	rootCmd.AddCommand(voicesCmd)
}

func runVoices(cmd *cobra.Command, args []string) error {
	settings, err := loadSettings()
	if err != nil {
		return err
	}

	engine := synth.NewEngine(settings)
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	voices, err := engine.Voices(ctx)
	if err != nil {
		return fmt.Errorf("list voices from %s: %w (try 'audiobook-cli doctor')", engine.Name(), err)
	}
	if len(voices) == 0 {
		fmt.Printf("%s reported no voices.\n", engine.Name())
		return nil
	}

	fmt.Printf("%d voice(s) available via %s:\n", len(voices), engine.Name())
	for _, voice := range voices {
		line := fmt.Sprintf("  %-24s %s", voice.ID, voice.Name)
		if voice.Language != "" {
			line += "  [" + voice.Language + "]"
		}
		fmt.Println(line)
	}
	return nil
}
