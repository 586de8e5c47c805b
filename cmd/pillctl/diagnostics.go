package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"pillpal/internal/audio"
	"pillpal/internal/config"
	"pillpal/internal/services"
)

const testVoiceText = "This is a test of the PillPal voice reminder system. Voice notifications are working correctly."

func testSMSText(at time.Time) string {
	return fmt.Sprintf(`🧪 PILLPAL TEST: Your PillPal SMS escalation is working.

This message was sent through Twilio by pillctl.

✅ Caretaker alerts: WORKING
✅ Missed dose escalation: READY

Sent at %s
- PillPal Medicine Reminder System 💊`, at.Format("2006-01-02 15:04:05"))
}

func newTestSMSCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "test-sms <number>",
		Short: "Send a test SMS through Twilio",
		Long:  `Send a test message to <number> with the server's Twilio credentials (TWILIO_ACCOUNT_SID, TWILIO_AUTH_TOKEN, TWILIO_FROM_NUMBER).`,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := config.Load()
			if !cfg.TwilioConfigured() {
				return fmt.Errorf("Twilio is not configured: set TWILIO_ACCOUNT_SID, TWILIO_AUTH_TOKEN and TWILIO_FROM_NUMBER")
			}

			channel, err := services.NewTwilioChannel(services.TwilioConfig{
				AccountSID:    cfg.TwilioAccountSID,
				AuthToken:     cfg.TwilioAuthToken,
				FromNumber:    cfg.TwilioFromNumber,
				RatePerSecond: cfg.TwilioRatePerSecond,
				BaseURL:       cfg.TwilioBaseURL,
			})
			if err != nil {
				return err
			}

			sid, err := channel.Send(cmd.Context(), args[0], testSMSText(time.Now()))
			if err != nil {
				return fmt.Errorf("test SMS failed: %w", err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "📱 Test SMS sent to %s (sid %s)\n", args[0], sid)
			return nil
		},
	}
}

func newTestVoiceCmd() *cobra.Command {
	var (
		language string
		rate     float64
		pitch    float64
		keep     bool
	)

	cmd := &cobra.Command{
		Use:   "test-voice [text]",
		Short: "Synthesize and play a test reminder",
		Long:  `Speak a test message with the server's text-to-speech settings (TTS_API_KEY, TTS_BASE_URL, TTS_PLAYER).`,
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := config.Load()
			if cfg.TTSAPIKey == "" {
				return fmt.Errorf("text-to-speech is not configured: set TTS_API_KEY")
			}

			text := testVoiceText
			if len(args) == 1 {
				text = args[0]
			}

			speech := audio.NewService(audio.Config{
				BaseURL:   cfg.TTSBaseURL,
				APIKey:    cfg.TTSAPIKey,
				Model:     cfg.TTSModel,
				Voice:     cfg.TTSVoice,
				OutputDir: cfg.TTSOutputDir,
				Player:    cfg.TTSPlayer,
			})

			if keep {
				path, err := speech.Synthesize(cmd.Context(), text, language, rate, pitch)
				if err != nil {
					return fmt.Errorf("voice test failed: %w", err)
				}
				fmt.Fprintf(cmd.OutOrStdout(), "🔊 Speech saved to %s\n", path)
				return nil
			}

			if err := speech.Speak(cmd.Context(), text, language, rate, pitch); err != nil {
				return fmt.Errorf("voice test failed: %w", err)
			}
			fmt.Fprintln(cmd.OutOrStdout(), "🔊 Voice test completed")
			return nil
		},
	}

	cmd.Flags().StringVar(&language, "language", "en-US", "Speech language")
	cmd.Flags().Float64Var(&rate, "rate", 0.8, "Speech rate")
	cmd.Flags().Float64Var(&pitch, "pitch", 1.0, "Speech pitch")
	cmd.Flags().BoolVar(&keep, "keep", false, "Only write the audio file and print its path")
	return cmd
}
