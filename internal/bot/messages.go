package bot

// French replies shown to subscribers.
const (
	msgWelcome = `👋 Bienvenue dans JobAlert Bot!

Ce bot vous aide à rester informé des nouvelles offres d'emploi en Suisse.

Commandes disponibles:
/register - Créer votre compte
/config - Configurer vos critères de recherche
/status - Voir le statut de vos alertes
/pause - Suspendre temporairement les alertes
/help - Aide et commandes

Pour commencer, utilisez /register`

	msgRegistered        = "✅ Inscription réussie! Utilisez /config pour définir vos critères de recherche d'emploi."
	msgAlreadyRegistered = "✅ Vous êtes déjà inscrit! Utilisez /config pour modifier vos préférences."

	msgAskKeywords  = "Entrez vos mots-clés de recherche (séparés par des virgules):\nExemple: secrétaire, administration, rh"
	msgAskLocations = "Dans quels cantons cherchez-vous? (séparés par des virgules):\nExemple: Vaud, Valais, Geneva"
	msgConfigSaved  = "✅ Configuration sauvegardée! Vos alertes sont maintenant actives."
	msgConfigUpdate = "✅ Configuration mise à jour!"

	msgStatusActive   = "✅ Vos alertes emploi sont ACTIVES"
	msgStatusPaused   = "⏸️ Vos alertes emploi sont EN PAUSE"
	msgStatusNoUser   = "❌ Vous n'êtes pas encore inscrit. Utilisez /register"
	msgStatusCriteria = "\n\n📋 Vos critères de recherche:"
	msgStatusNoSearch = "\n\n⚠️ Aucun critère configuré. Utilisez /config"

	msgPaused  = "⏸️ Alertes suspendues. Utilisez /start ou /resume pour les réactiver."
	msgResumed = "▶️ Alertes réactivées!"

	msgHelp = `🤖 JobAlert Bot - Aide

📋 Commandes disponibles:
/start - Menu principal et réactivation
/register - Créer votre compte
/config - Configurer vos critères de recherche
/status - Voir le statut de vos alertes
/pause - Suspendre les alertes
/resume - Réactiver les alertes
/help - Cette aide

🎯 Comment ça marche:
1. Inscrivez-vous avec /register
2. Configurez vos critères avec /config
3. Recevez des alertes automatiques pour les nouveaux emplois`

	msgNotRegistered = "❌ Veuillez d'abord vous inscrire avec /register"
	msgInvalidInput  = "❌ Format invalide. Veuillez réessayer."
	msgTechnical     = "❌ Erreur technique. Veuillez réessayer plus tard."
)
