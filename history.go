package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"pitwall/pkg/incidents"
	"pitwall/pkg/rules"
	"pitwall/pkg/store"
	"pitwall/pkg/strategy"
)

func lapsCmd() *cobra.Command {
	var sessionID string
	var driverID string

	cmd := &cobra.Command{
		Use:   "laps",
		Short: "Show the recorded laps of a driver",
		RunE: func(cmd *cobra.Command, args []string) error {
			st, err := store.Open(dbPath)
			if err != nil {
				return err
			}
			defer st.Close()

			laps, err := st.ListLaps(sessionID, driverID)
			if err != nil {
				return err
			}
			stints, err := st.ListStints(sessionID, driverID)
			if err != nil {
				return err
			}
			fmt.Print(strategy.RenderLaps(driverID, laps))
			for _, s := range stints {
				fmt.Printf("stint %d: laps %d-%d (%d laps, %.1f L) %s\n", s.Number, s.StartLap, s.EndLap, s.Laps, s.FuelLoad, s.Status)
			}
			return nil
		},
	}

	cmd.Flags().StringVarP(&sessionID, "session", "s", "", "Session id")
	cmd.Flags().StringVarP(&driverID, "driver", "d", "", "Driver id")
	_ = cmd.MarkFlagRequired("session")
	_ = cmd.MarkFlagRequired("driver")
	return cmd
}

func incidentsCmd() *cobra.Command {
	var sessionID string

	cmd := &cobra.Command{
		Use:   "incidents",
		Short: "Show the classified incidents of a session",
		RunE: func(cmd *cobra.Command, args []string) error {
			st, err := store.Open(dbPath)
			if err != nil {
				return err
			}
			defer st.Close()

			ics, err := st.ListClassifications(sessionID)
			if err != nil {
				return err
			}
			fmt.Print(incidents.RenderTable(sessionID, ics))
			return nil
		},
	}

	cmd.Flags().StringVarP(&sessionID, "session", "s", "", "Session id")
	_ = cmd.MarkFlagRequired("session")
	return cmd
}

func rulesCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "rules",
		Short: "Incident rulebook tools",
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "check [file]",
		Short: "Validate a rulebook file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			f, err := os.Open(args[0])
			if err != nil {
				return err
			}
			defer f.Close()

			rulebook, err := rules.ReadRules(f)
			if err != nil {
				return err
			}
			for _, r := range rulebook {
				fmt.Printf("%s\t%d conditions\t%s\n", r.ID, len(r.Conditions), r.Name)
			}
			fmt.Printf("%d rules ok\n", len(rulebook))
			return nil
		},
	})
	return cmd
}
