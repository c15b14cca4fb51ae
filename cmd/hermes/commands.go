package main

import (
	"encoding/json"
	"fmt"

	"github.com/drewfead/hermes/internal/control"
)

func runStatus() error {
	client, err := getClient()
	if err != nil {
		return fmt.Errorf("cannot connect to daemon: %w", err)
	}
	defer client.Close()

	sessions, err := client.ListSessions()
	if err != nil {
		return err
	}
	jobs, err := client.ListJobs()
	if err != nil {
		return err
	}

	busy := 0
	for _, s := range sessions {
		if s.Busy {
			busy++
		}
	}
	fmt.Printf("%sSessions%s  %d live, %d busy\n", bold, reset, len(sessions), busy)

	live := make([]*control.JobInfo, 0, len(jobs))
	for _, j := range jobs {
		if j.Status == "queued" || j.Status == "running" {
			live = append(live, j)
		}
	}
	fmt.Printf("%sJobs%s      %d tracked, %d active\n", bold, reset, len(jobs), len(live))

	if len(live) > 0 {
		fmt.Println()
		printJobTable(live)
	}
	return nil
}

func runSend(key, user, text string, watch bool) error {
	client, err := getClient()
	if err != nil {
		return fmt.Errorf("cannot connect to daemon: %w", err)
	}
	defer client.Close()

	result, err := client.Submit(control.SubmitRequest{Key: key, UserID: user, Text: text})
	if err != nil {
		return err
	}

	if result.Position > 0 {
		fmt.Printf("%s%s%s queued at position %d (job %s)\n", yellow, bullet, reset, result.Position, result.JobID)
	} else {
		fmt.Printf("%s%s%s job %s started\n", green, bullet, reset, result.JobID)
	}

	if !watch {
		return nil
	}
	return watchJob(client, result.JobID)
}

// watchJob streams pushed events until the job reaches a terminal state.
func watchJob(client *control.Client, jobID string) error {
	for ev := range client.Events() {
		switch ev.Type {
		case control.EventJobProgress:
			var p control.ProgressPayload
			if decodePayload(ev.Payload, &p) != nil || p.JobID != jobID {
				continue
			}
			fmt.Printf("%s[%3ds]%s %s\n", gray, p.ElapsedSeconds, reset, truncate(p.Output, 120))

		case control.EventApprovalRequired:
			var p control.ApprovalPayload
			if decodePayload(ev.Payload, &p) != nil || p.JobID != jobID {
				continue
			}
			fmt.Printf("%s%s approval required%s  tool=%s\n", yellow, bullet, reset, p.Tool)
			fmt.Printf("  answer with: hermes approve %s %s\n", p.Key, p.RequestID)

		case control.EventJobResult:
			var p control.JobInfo
			if decodePayload(ev.Payload, &p) != nil || p.ID != jobID {
				continue
			}
			switch p.Status {
			case "completed":
				fmt.Printf("%s%s completed%s\n\n%s\n", green, checkMark, reset, p.Output)
				return nil
			case "cancelled":
				fmt.Printf("%s%s cancelled%s\n", gray, bullet, reset)
				return nil
			default:
				return fmt.Errorf("job %s: %s", p.Status, p.Error)
			}
		}
	}
	return fmt.Errorf("connection to daemon lost")
}

func runCancel(key string) error {
	client, err := getClient()
	if err != nil {
		return fmt.Errorf("cannot connect to daemon: %w", err)
	}
	defer client.Close()

	n, err := client.Cancel(key)
	if err != nil {
		return err
	}
	if n == 0 {
		fmt.Println(gray + "nothing to cancel" + reset)
		return nil
	}
	fmt.Printf("cancelled %d job(s)\n", n)
	return nil
}

func runJobs() error {
	client, err := getClient()
	if err != nil {
		return fmt.Errorf("cannot connect to daemon: %w", err)
	}
	defer client.Close()

	jobs, err := client.ListJobs()
	if err != nil {
		return err
	}
	if len(jobs) == 0 {
		fmt.Println(gray + "No jobs tracked." + reset)
		return nil
	}
	printJobTable(jobs)
	return nil
}

func runJob(id string) error {
	client, err := getClient()
	if err != nil {
		return fmt.Errorf("cannot connect to daemon: %w", err)
	}
	defer client.Close()

	j, err := client.GetJob(id)
	if err != nil {
		return err
	}

	fmt.Printf("%s%s%s  %s%s%s\n", bold, j.ID, reset, statusColor(j.Status), j.Status, reset)
	fmt.Printf("  key:     %s\n", j.Key)
	if j.UserID != "" {
		fmt.Printf("  user:    %s\n", j.UserID)
	}
	fmt.Printf("  text:    %s\n", truncate(j.Text, 100))
	fmt.Printf("  created: %s\n", j.CreatedAt)
	if j.StartedAt != "" {
		fmt.Printf("  started: %s\n", j.StartedAt)
	}
	if j.EndedAt != "" {
		fmt.Printf("  ended:   %s\n", j.EndedAt)
	}
	if j.Error != "" {
		fmt.Printf("  error:   %s%s%s\n", red, j.Error, reset)
	}
	if j.Output != "" {
		fmt.Printf("\n%s\n", j.Output)
	}
	return nil
}

func runSessions() error {
	client, err := getClient()
	if err != nil {
		return fmt.Errorf("cannot connect to daemon: %w", err)
	}
	defer client.Close()

	sessions, err := client.ListSessions()
	if err != nil {
		return err
	}
	if len(sessions) == 0 {
		fmt.Println(gray + "No live sessions." + reset)
		return nil
	}
	printSessionTable(sessions)
	return nil
}

func runEnd(key string) error {
	client, err := getClient()
	if err != nil {
		return fmt.Errorf("cannot connect to daemon: %w", err)
	}
	defer client.Close()

	if err := client.EndSession(key); err != nil {
		return err
	}
	fmt.Printf("%s%s%s session ended: %s\n", green, checkMark, reset, key)
	return nil
}

func runNew(key string) error {
	client, err := getClient()
	if err != nil {
		return fmt.Errorf("cannot connect to daemon: %w", err)
	}
	defer client.Close()

	info, err := client.NewSession(key)
	if err != nil {
		return err
	}
	fmt.Printf("%s%s%s fresh session %s for %s\n", green, checkMark, reset, info.ID[:8], key)
	return nil
}

func runModel(key, model string) error {
	client, err := getClient()
	if err != nil {
		return fmt.Errorf("cannot connect to daemon: %w", err)
	}
	defer client.Close()

	if err := client.SetModel(key, model); err != nil {
		return err
	}
	fmt.Printf("%s%s%s %s now uses %s\n", green, checkMark, reset, key, model)
	return nil
}

func runModels() error {
	client, err := getClient()
	if err != nil {
		return fmt.Errorf("cannot connect to daemon: %w", err)
	}
	defer client.Close()

	models, err := client.ListModels()
	if err != nil {
		return err
	}
	if len(models) == 0 {
		fmt.Println(gray + "Runtime reported no models." + reset)
		return nil
	}
	for _, m := range models {
		if m.Name != "" && m.Name != m.ID {
			fmt.Printf("%s%s%s  %s%s%s\n", bold, m.ID, reset, gray, m.Name, reset)
		} else {
			fmt.Printf("%s%s%s\n", bold, m.ID, reset)
		}
	}
	return nil
}

func runDecide(key, requestID string, always, deny bool) error {
	client, err := getClient()
	if err != nil {
		return fmt.Errorf("cannot connect to daemon: %w", err)
	}
	defer client.Close()

	decision := "approve_once"
	if always {
		decision = "approve_always"
	}
	if deny {
		decision = "deny"
	}

	if err := client.Decide(control.DecideRequest{Key: key, RequestID: requestID, Decision: decision}); err != nil {
		return err
	}
	fmt.Printf("%s%s%s %s: %s\n", green, checkMark, reset, requestID, decision)
	return nil
}

func runLogin(provider string) error {
	client, err := getClient()
	if err != nil {
		return fmt.Errorf("cannot connect to daemon: %w", err)
	}
	defer client.Close()

	// Login blocks until the flow ends; URLs arrive as pushed events
	go func() {
		for ev := range client.Events() {
			if ev.Type != control.EventAuthURL {
				continue
			}
			var p control.AuthPayload
			if decodePayload(ev.Payload, &p) != nil {
				continue
			}
			switch p.Kind {
			case "url":
				fmt.Printf("%sOpen to authenticate:%s %s\n", bold, reset, p.URL)
			case "failed":
				fmt.Printf("%s%s%s %s\n", red, bullet, reset, p.Reason)
			}
		}
	}()

	if err := client.Login(provider); err != nil {
		return err
	}
	fmt.Printf("%s%s login successful%s\n", green, checkMark, reset)
	return nil
}

// decodePayload re-marshals a pushed event payload into a typed struct.
func decodePayload(payload any, out any) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	return json.Unmarshal(data, out)
}
