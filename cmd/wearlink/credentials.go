package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"
)

func credentialsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "credentials",
		Short: "Inspect or clear the bound device credentials",
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "show",
		Short: "Show the stored address and binding (password masked)",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			store := newCredentialStore(cfg)
			address, _ := store.Address()
			password, bound := store.Password()
			fmt.Printf("Address:  %s\n", orNone(address))
			fmt.Printf("Password: %s\n", orNone(strings.Repeat("*", len(password))))
			if bound {
				fmt.Printf("24-hour:  %t\n", store.Use24Hour())
			}
			return nil
		},
	})
	cmd.AddCommand(&cobra.Command{
		Use:   "clear",
		Short: "Forget the bound device",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			if err := newCredentialStore(cfg).Clear(); err != nil {
				return err
			}
			fmt.Println("Credentials cleared.")
			return nil
		},
	})
	return cmd
}

func orNone(s string) string {
	if s == "" {
		return "(none)"
	}
	return s
}
