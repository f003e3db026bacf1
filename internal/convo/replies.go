package convo

// Fixed user-facing reply texts. Failures are always plain language; no
// internal identifiers or stack traces ever reach the chat.
const (
	greetingReply = "Hey! I'm your image studio. Describe anything and I'll create it for you. " +
		"Send \"balance\" to check your credits or \"buy credits\" to top up."

	needCreditsReply = "You're out of credits, so I can't create that image yet. " +
		"Send \"balance\" to check your account or \"buy credits\" to see the packs."

	workingOnItReply = "On it! Your image is being created, this usually takes a few seconds."

	imageCaption = "Here you go! Reply with tweaks like \"make it brighter\" to refine this image, " +
		"or describe something new."

	refundApologyReply = "Sorry, I couldn't create that image. Your credit has been refunded, " +
		"please try again in a moment."

	chatApologyReply = "Sorry, I'm having trouble answering right now. Please try again in a moment."

	nudgeReply = "By the way, I can also turn your words into images. Just describe what you'd like to see."

	unsupportedReply = "I can only read text messages for now. Describe what you'd like in words."
)
