package mailing

// Liquid sources. Campaign content is admin-authored HTML and is inserted
// unescaped; every other value is escaped in the template.

const layoutHead = `<!DOCTYPE html>
<html lang="fr">
<head>
<meta charset="utf-8">
<meta name="viewport" content="width=device-width, initial-scale=1">
<title>{{ page_title | escape }}</title>
<style>
body{margin:0;padding:0;background:#f4f1ea;font-family:Georgia,'Times New Roman',serif;color:#2b2b2b}
.wrap{max-width:640px;margin:0 auto;background:#ffffff;padding:24px 32px}
h1{color:#7a2e1f;font-size:26px;margin:8px 0 16px}
h2{color:#7a2e1f;font-size:20px;border-bottom:2px solid #e2c48a;padding-bottom:4px;margin-top:32px}
h3{font-size:17px;margin:16px 0 4px}
a{color:#7a2e1f}
.meta{color:#6b6b6b;font-size:14px;margin:0 0 6px}
.topbar{font-size:12px;color:#6b6b6b;text-align:center;padding:8px}
.footer{font-size:12px;color:#6b6b6b;border-top:1px solid #ddd;margin-top:32px;padding-top:12px}
.notice{text-align:center;padding:48px 16px}
</style>
</head>
<body>
`

const newsletterTemplate = layoutHead + `{% unless is_web_view %}<div class="topbar">Ce message ne s'affiche pas correctement ? <a href="{{ web_view_url }}">Le lire dans votre navigateur</a></div>{% endunless %}
<div class="wrap">
<p class="meta">{{ site_name | escape }}</p>
<h1>{{ title | escape }}</h1>
<p>Bonjour {{ first_name | default: "à toutes et à tous" | escape }},</p>
<div class="content">{{ content }}</div>
{% if events.size > 0 %}
<h2>À l'agenda</h2>
{% for e in events %}<div class="event">
<h3>{% if e.url != "" %}<a href="{{ e.url }}">{{ e.title | escape }}</a>{% else %}{{ e.title | escape }}{% endif %}</h3>
<p class="meta">{{ e.date }}{% if e.location != "" %} · {{ e.location | escape }}{% endif %}</p>
<p>{{ e.summary | truncate_words: 40 | escape }}</p>
</div>
{% endfor %}{% endif %}
{% if places.size > 0 %}
<h2>Nos commerçants</h2>
{% for p in places %}<div class="place">
<h3>{% if p.url != "" %}<a href="{{ p.url }}">{{ p.name | escape }}</a>{% else %}{{ p.name | escape }}{% endif %}</h3>
{% if p.address != "" %}<p class="meta">{{ p.address | escape }}</p>{% endif %}
<p>{{ p.summary | truncate_words: 40 | escape }}</p>
</div>
{% endfor %}{% endif %}
{% if posts.size > 0 %}
<h2>Actualités</h2>
{% for a in posts %}<div class="post">
<h3>{% if a.url != "" %}<a href="{{ a.url }}">{{ a.title | escape }}</a>{% else %}{{ a.title | escape }}{% endif %}</h3>
<p class="meta">{{ a.date }}</p>
<p>{{ a.excerpt | truncate_words: 40 | escape }}</p>
</div>
{% endfor %}{% endif %}
<div class="footer">
<p>Vous recevez ce message car vous êtes inscrit·e à la lettre d'information de {{ site_name | escape }}.</p>
{% unless is_web_view %}<p><a href="{{ preferences_url }}">Gérer mes préférences</a> · <a href="{{ unsubscribe_url }}">Se désabonner</a></p>{% endunless %}
</div>
</div>
</body>
</html>
`

const verificationTemplate = layoutHead + `<div class="wrap">
<h1>Confirmez votre inscription</h1>
<p>Bonjour {{ first_name | default: "" | escape }},</p>
<p>Merci de votre intérêt pour la lettre d'information de {{ site_name | escape }}.
Pour confirmer votre adresse et commencer à recevoir nos nouvelles, cliquez sur le lien ci-dessous :</p>
<p><a href="{{ verify_url }}">Confirmer mon inscription</a></p>
<p class="meta">Si vous n'êtes pas à l'origine de cette demande, ignorez simplement ce message.</p>
</div>
</body>
</html>
`

const noticeTemplate = layoutHead + `<div class="wrap notice">
<h1>{{ heading | escape }}</h1>
<p>{{ message | escape }}</p>
{% if form_action != "" %}<form method="post" action="{{ form_action | escape }}"><button type="submit">{{ form_label | escape }}</button></form>{% endif %}
{% if link_url != "" %}<p><a href="{{ link_url }}">{{ link_label | escape }}</a></p>{% endif %}
<p class="meta"><a href="{{ home_url }}">{{ site_name | escape }}</a></p>
</div>
</body>
</html>
`
