package main

import (
	"bufio"
	"context"
	"fmt"
	"os"

	"lmsrun/internal/browser"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

// runLogin opens a visible browser and saves the cookies once the user has
// signed in.
func runLogin(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	cfg.Browser.Headless = false

	ctx, stop := signalContext()
	defer stop()

	bc := browser.ConfigFrom(cfg)
	sm := browser.NewSessionManager(bc)
	if err := sm.Start(context.Background()); err != nil {
		return fmt.Errorf("start browser: %w", err)
	}
	defer func() {
		if err := sm.Shutdown(context.Background()); err != nil {
			logger.Warn("Browser shutdown failed", zap.Error(err))
		}
	}()

	fmt.Println(titleStyle.Render("🔐 Manual sign-in"))
	fmt.Printf("A browser window is open at %s\n", cfg.LMS.CoursesURL)
	fmt.Println("Sign in (including any SSO steps) until you see your courses.")

	err = sm.InteractiveLogin(ctx, func() error {
		fmt.Print("Press ENTER when you are signed in... ")
		_, err := bufio.NewReader(os.Stdin).ReadString('\n')
		return err
	})
	if err != nil {
		return fmt.Errorf("login failed: %w", err)
	}

	fmt.Println(successStyle.Render("✅ Session saved to " + bc.CookiesFile))
	return nil
}
