// Package twitch talks to the Twitch OAuth and Helix REST endpoints and
// manages the bot and broadcaster credential caches.
package twitch
