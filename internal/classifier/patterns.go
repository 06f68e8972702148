package classifier

// DefaultWhitelist lists search-engine and social-preview crawlers that are never reported.
var DefaultWhitelist = []string{
	"googlebot",
	"bingbot",
	"slurp",
	"duckduckbot",
	"baiduspider",
	"yandexbot",
	"sogou",
	"exabot",
	"facebot",
	"facebookexternalhit",
	"ia_archiver",
	"twitterbot",
	"linkedinbot",
	"whatsapp",
	"telegrambot",
	"slackbot",
	"discordbot",
	"pinterestbot",
	"applebot",
	"redditbot",
	"embedly",
	"skypeuripreview",
}

// DefaultPatterns lists named AI crawlers followed by generic automation signatures.
// The generic terms ("bot", "http", "api", ...) also match monitoring probes and other
// non-AI clients; that breadth is part of the detection heuristic.
var DefaultPatterns = []string{
	// Named AI crawlers and assistants.
	"gptbot",
	"chatgpt-user",
	"oai-searchbot",
	"claudebot",
	"claude-web",
	"claude-user",
	"anthropic-ai",
	"ccbot",
	"perplexitybot",
	"perplexity-user",
	"google-extended",
	"googleother",
	"bytespider",
	"amazonbot",
	"cohere-ai",
	"cohere-training-data-crawler",
	"diffbot",
	"youbot",
	"meta-externalagent",
	"meta-externalfetcher",
	"facebookbot",
	"omgili",
	"imagesiftbot",
	"timpibot",
	"ai2bot",
	"petalbot",
	"mistralai-user",
	"duckassistbot",
	// Scripting libraries and generic HTTP clients.
	"python-requests",
	"python-urllib",
	"python-httpx",
	"aiohttp",
	"scrapy",
	"curl",
	"wget",
	"go-http-client",
	"okhttp",
	"java/",
	"apache-httpclient",
	"node-fetch",
	"axios",
	"libwww-perl",
	"headlesschrome",
	"phantomjs",
	"selenium",
	"puppeteer",
	"playwright",
	// Generic terms.
	"bot",
	"crawler",
	"spider",
	"scraper",
	"http",
	"api",
}
