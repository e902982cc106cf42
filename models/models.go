package models

// This file serves as the central export point for all database models
// Import this package to access all model types

// All models are automatically exported from their respective files:
// - Simulation, Feedback, FeedbackSection from simulation.go
// - Transcript, ChatMessage from transcript.go

// Database schema overview:
// 1. simulations - One practice run per participant. score and feedback stay NULL
//    until the session is scored
// 2. transcripts - Ordered, turn-by-turn text of the conversation. The first row of
//    every simulation is the assistant greeting
