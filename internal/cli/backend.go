package cli

import (
	"encoding/base64"
	"fmt"
	"io"
	"mime"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/capitalize-ai/agent-console/internal/messaging"
	"github.com/capitalize-ai/agent-console/internal/model"
)

var (
	topicsPage     int
	topicsPageSize int

	historyTopic    string
	historyPage     int
	historyPageSize int
	historyAll      bool

	sendTopic string
	sendFile  string

	clearTopic string
)

var activationsCmd = &cobra.Command{
	Use:   "activations",
	Short: "List agent activations",
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := newBackend()
		if err != nil {
			return err
		}
		options, err := client.Activations(cmd.Context())
		if err != nil {
			return err
		}
		out := cmd.OutOrStdout()
		for _, opt := range options {
			fmt.Fprintln(out, formatActivation(opt))
		}
		return nil
	},
}

var topicsCmd = &cobra.Command{
	Use:   "topics",
	Short: "List the topics of an activation",
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := requireActivation(); err != nil {
			return err
		}
		client, err := newBackend()
		if err != nil {
			return err
		}
		page, err := client.ListTopics(cmd.Context(), messaging.TopicsQuery{
			TenantID:       tenantID,
			AgentName:      agentName,
			ActivationName: activationName,
			Page:           topicsPage,
			PageSize:       topicsPageSize,
		})
		if messaging.IsNotConversational(err) {
			fmt.Fprintln(cmd.OutOrStdout(), color.YellowString("agent is not conversational"))
			return nil
		}
		if err != nil {
			return err
		}
		out := cmd.OutOrStdout()
		for _, t := range page.Topics {
			fmt.Fprintln(out, formatTopic(t))
		}
		if page.Pagination.HasMore {
			fmt.Fprintln(out, color.HiBlackString("more topics available, use --page %d", topicsPage+1))
		}
		return nil
	},
}

var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "Print one page of a topic's history, oldest first",
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := requireActivation(); err != nil {
			return err
		}
		client, err := newBackend()
		if err != nil {
			return err
		}
		items, err := client.History(cmd.Context(), messaging.HistoryQuery{
			TenantID:       tenantID,
			AgentName:      agentName,
			ActivationName: activationName,
			Topic:          historyTopic,
			Page:           historyPage,
			PageSize:       historyPageSize,
			ChatOnly:       !historyAll,
			SortOrder:      "desc",
		})
		if err != nil {
			return err
		}
		out := cmd.OutOrStdout()
		for i := len(items) - 1; i >= 0; i-- {
			fmt.Fprintln(out, formatMessage(items[i].Message()))
		}
		return nil
	},
}

var sendCmd = &cobra.Command{
	Use:   "send [text]",
	Short: "Send a message or a file into a topic",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := requireActivation(); err != nil {
			return err
		}
		client, err := newBackend()
		if err != nil {
			return err
		}

		if sendFile != "" {
			req, err := fileRequest(sendFile)
			if err != nil {
				return err
			}
			if err := client.SendFile(cmd.Context(), tenantID, req); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), color.GreenString("sent %s (%d bytes) to %s", req.Data.FileName, req.Data.FileSize, sendTopic))
			return nil
		}

		if len(args) == 0 || strings.TrimSpace(args[0]) == "" {
			return fmt.Errorf("message text is required")
		}
		err = client.Send(cmd.Context(), tenantID, model.SendMessageRequest{
			AgentName:      agentName,
			ActivationName: activationName,
			Text:           args[0],
			Topic:          sendTopic,
		})
		if err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), color.GreenString("sent to %s", sendTopic))
		return nil
	},
}

var clearCmd = &cobra.Command{
	Use:   "clear",
	Short: "Delete every message of a topic",
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := requireActivation(); err != nil {
			return err
		}
		client, err := newBackend()
		if err != nil {
			return err
		}
		err = client.DeleteTopicMessages(cmd.Context(), messaging.TopicRef{
			TenantID:       tenantID,
			AgentName:      agentName,
			ActivationName: activationName,
			Topic:          clearTopic,
		})
		if err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), color.GreenString("messages deleted from %s", clearTopic))
		return nil
	},
}

func init() {
	topicsCmd.Flags().IntVar(&topicsPage, "page", 1, "page number")
	topicsCmd.Flags().IntVar(&topicsPageSize, "page-size", 50, "topics per page")

	historyCmd.Flags().StringVar(&historyTopic, "topic", model.DefaultTopicID, "topic id")
	historyCmd.Flags().IntVar(&historyPage, "page", 1, "page number, 1 is the newest")
	historyCmd.Flags().IntVar(&historyPageSize, "page-size", 10, "messages per page")
	historyCmd.Flags().BoolVar(&historyAll, "all", false, "include reasoning and tool messages")

	sendCmd.Flags().StringVar(&sendTopic, "topic", model.DefaultTopicID, "topic id")
	sendCmd.Flags().StringVar(&sendFile, "file", "", "send this file instead of text")

	clearCmd.Flags().StringVar(&clearTopic, "topic", model.DefaultTopicID, "topic id")
}

func fileRequest(path string) (model.SendFileRequest, error) {
	f, err := os.Open(path)
	if err != nil {
		return model.SendFileRequest{}, err
	}
	defer f.Close()

	data, err := io.ReadAll(f)
	if err != nil {
		return model.SendFileRequest{}, err
	}

	name := filepath.Base(path)
	contentType := mime.TypeByExtension(filepath.Ext(name))
	if contentType == "" {
		contentType = http.DetectContentType(data)
	}

	return model.SendFileRequest{
		AgentName:      agentName,
		ActivationName: activationName,
		Type:           "File",
		Text:           name,
		Topic:          sendTopic,
		Data: model.FileData{
			Content:     base64.StdEncoding.EncodeToString(data),
			FileName:    name,
			ContentType: contentType,
			FileSize:    int64(len(data)),
		},
	}, nil
}

func formatActivation(opt model.ActivationOption) string {
	status := color.GreenString(string(opt.Status))
	if opt.Status != model.ActivationActive {
		status = color.HiBlackString(string(opt.Status))
	}
	line := fmt.Sprintf("%s/%s  %s", opt.AgentName, opt.Name, status)
	if opt.Description != "" {
		line += "  " + opt.Description
	}
	return line
}

func formatTopic(t messaging.RemoteTopic) string {
	last := "never"
	if !t.LastMessageAt.IsZero() {
		last = t.LastMessageAt.Local().Format(time.DateTime)
	}
	return fmt.Sprintf("%-32s %5d messages  last %s", color.CyanString(t.Scope), t.MessageCount, last)
}

func formatMessage(m model.Message) string {
	ts := m.Timestamp.Local().Format(time.TimeOnly)
	var who string
	switch m.Role {
	case model.RoleUser:
		who = color.BlueString("user")
	case model.RoleAgent:
		who = color.MagentaString("agent")
	default:
		who = color.HiBlackString(string(m.Role))
	}
	text := m.Content
	if t := m.EffectiveType(); t != model.MessageTypeChat {
		text = color.HiBlackString("[%s] %s", t, text)
	}
	return fmt.Sprintf("%s %s %s", color.HiBlackString(ts), who, text)
}
