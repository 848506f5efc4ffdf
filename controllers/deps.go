package controllers

import (
	"disputeflow-backend/jobs"
	"disputeflow-backend/services"
)

// Package-level collaborators, wired once at startup from main. Controllers
// stay plain functions the way the router expects them.
var (
	Tasks  *jobs.Tasks
	Mail   services.MailProvider
	Credit services.CreditProvider
	Crypto *services.Encryptor

	LobWebhookSecret         string
	SmartCreditWebhookSecret string
)

// Init wires the shared collaborators.
func Init(tasks *jobs.Tasks, mail services.MailProvider, credit services.CreditProvider,
	crypto *services.Encryptor, lobSecret, smartCreditSecret string) {
	Tasks = tasks
	Mail = mail
	Credit = credit
	Crypto = crypto
	LobWebhookSecret = lobSecret
	SmartCreditWebhookSecret = smartCreditSecret
}
